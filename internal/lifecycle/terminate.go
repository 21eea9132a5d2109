package lifecycle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/retry"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Terminate destroys the instance and clears the recorded identity. The
// accumulated cost record survives so the final spend stays inspectable.
// Terminating when nothing exists (or after drift) is an idempotent no-op
// that still clears any stale identity.
func (m *Manager) Terminate(ctx context.Context) (Result, error) {
	return m.withLock(ctx, "terminate", m.terminateLocked)
}

func (m *Manager) terminateLocked(ctx context.Context, em *events.Emitter) (Result, error) {
	rec, err := m.reconcile(ctx, em)
	if err != nil {
		return Result{}, err
	}

	switch rec.state {
	case state.StateNone:
		em.Emit(events.StepComplete, events.StatusOK, zap.Bool("noop", true))
		return m.result(rec, true), nil

	case state.StateTerminated, state.StateDrift:
		// Already gone; just drop the stale identity.
		if err := m.clearIdentity(); err != nil {
			return Result{}, err
		}
		em.Emit(events.StepComplete, events.StatusOK,
			zap.Bool("noop", true),
			zap.String("detail", "instance already gone, cleared stale record"))
		return Result{State: state.StateNone, NoOp: true}, nil
	}

	em.Emit(events.StepProviderCall, events.StatusOK,
		zap.String("call", "terminate"),
		zap.String("instance_id", rec.record.InstanceID))

	if err := m.callProvider(ctx, func(ctx context.Context) error {
		return m.cloud.Terminate(ctx, rec.record.InstanceID)
	}); err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{}, err
	}

	if err := m.waitForGone(ctx); err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{State: rec.state, Instance: rec.record}, err
	}

	if err := m.cost.CloseInterval(); err != nil {
		return Result{}, err
	}
	if err := m.store.ClearInstance(); err != nil {
		return Result{}, err
	}
	if err := m.store.SaveLifecycle(state.StateTerminated); err != nil {
		return Result{}, err
	}

	em.Emit(events.StepComplete, events.StatusOK,
		zap.String("instance_id", rec.record.InstanceID))

	res := Result{State: state.StateTerminated}
	res.Cost, _ = m.cost.Estimate()
	return res, nil
}

// waitForGone polls until the provider no longer reports the instance (or
// reports it terminated). Disappearance is the success condition here.
func (m *Manager) waitForGone(ctx context.Context) error {
	err := m.poll.Do(ctx, func(ctx context.Context) (bool, error) {
		live, err := m.cloud.Describe(ctx, m.scopeTags())
		if err != nil {
			if errors.Is(err, cloud.ErrTransient) {
				return false, err
			}
			return true, err
		}
		if live == nil || live.Status == cloud.StatusTerminated {
			return true, nil
		}
		return false, errors.New("instance status is " + string(live.Status) + ", waiting for termination")
	})
	if errors.Is(err, retry.ErrExhausted) {
		return ErrTransientState
	}
	return err
}
