package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Start brings a stopped instance back up. Starting an instance that is
// already running is an idempotent no-op success which still reports
// current health. With nothing to start it fails with
// ErrPreconditionNotMet, pointing the caller at deploy.
func (m *Manager) Start(ctx context.Context) (Result, error) {
	return m.withLock(ctx, "start", m.startLocked)
}

func (m *Manager) startLocked(ctx context.Context, em *events.Emitter) (Result, error) {
	rec, err := m.reconcile(ctx, em)
	if err != nil {
		return Result{}, err
	}
	rec, err = m.settle(ctx, em, rec)
	if err != nil {
		return Result{}, err
	}

	switch rec.state {
	case state.StateRunning:
		// No provider call; report current health and succeed.
		snap, probeErr := m.prober.ProbeOnce(ctx, rec.record.PublicAddress)
		if probeErr != nil {
			em.Emit(events.StepHealthCheck, events.StatusWarn,
				append(healthFields(snap), zap.Error(probeErr))...)
		} else {
			em.Emit(events.StepHealthCheck, events.StatusOK, healthFields(snap)...)
		}
		em.Emit(events.StepComplete, events.StatusOK,
			zap.String("instance_id", rec.record.InstanceID),
			zap.Bool("noop", true),
			zap.String("detail", "already running"))
		res := m.result(rec, true)
		res.Health = &snap
		return res, nil

	case state.StateStopped:
		// proceed below

	default:
		em.Emit(events.StepError, events.StatusError,
			zap.String("reason", "precondition_not_met"),
			zap.String("state", string(rec.state)),
			zap.String("hint", "run deploy"))
		return m.result(rec, false), fmt.Errorf("%w (state %s)", ErrPreconditionNotMet, rec.state)
	}

	em.Emit(events.StepProviderCall, events.StatusOK,
		zap.String("call", "start"),
		zap.String("instance_id", rec.record.InstanceID))

	if err := m.callProvider(ctx, func(ctx context.Context) error {
		return m.cloud.Start(ctx, rec.record.InstanceID)
	}); err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{}, err
	}

	live, err := m.waitForStatus(ctx, cloud.StatusRunning)
	if err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{State: state.StatePending, Instance: rec.record}, err
	}

	// The address usually changes across a stop/start cycle.
	rec.record.PublicAddress = live.PublicAddress
	if err := m.store.SaveInstance(rec.record); err != nil {
		return Result{}, err
	}
	if err := m.cost.OpenInterval(rec.record.InstanceID); err != nil {
		return Result{}, err
	}
	if err := m.store.SaveLifecycle(state.StateRunning); err != nil {
		return Result{}, err
	}

	snap, err := m.checkHealth(ctx, em, rec.record.PublicAddress)
	res := Result{State: state.StateRunning, Instance: rec.record, Health: &snap}
	res.Cost, _ = m.cost.Estimate()
	if err != nil {
		return res, err
	}

	em.Emit(events.StepComplete, events.StatusOK,
		zap.String("instance_id", rec.record.InstanceID),
		zap.String("address", rec.record.PublicAddress))
	return res, nil
}
