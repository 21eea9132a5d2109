package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Stop halts a running instance and closes the cost interval. Stopping an
// already-stopped or nonexistent instance is an idempotent no-op success;
// only a provider error stopping a genuinely running instance fails.
func (m *Manager) Stop(ctx context.Context) (Result, error) {
	return m.withLock(ctx, "stop", m.stopLocked)
}

func (m *Manager) stopLocked(ctx context.Context, em *events.Emitter) (Result, error) {
	rec, err := m.reconcile(ctx, em)
	if err != nil {
		return Result{}, err
	}
	rec, err = m.settle(ctx, em, rec)
	if err != nil {
		return Result{}, err
	}

	if rec.state != state.StateRunning {
		// Nothing to do; reconcile already closed any open cost interval.
		em.Emit(events.StepComplete, events.StatusOK,
			zap.String("state", string(rec.state)),
			zap.Bool("noop", true))
		return m.result(rec, true), nil
	}

	em.Emit(events.StepProviderCall, events.StatusOK,
		zap.String("call", "stop"),
		zap.String("instance_id", rec.record.InstanceID))

	if err := m.callProvider(ctx, func(ctx context.Context) error {
		return m.cloud.Stop(ctx, rec.record.InstanceID)
	}); err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{}, err
	}

	if _, err := m.waitForStatus(ctx, cloud.StatusStopped); err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{State: state.StateStopping, Instance: rec.record}, err
	}

	if err := m.cost.CloseInterval(); err != nil {
		return Result{}, err
	}
	rec.record.PublicAddress = ""
	if err := m.store.SaveInstance(rec.record); err != nil {
		return Result{}, err
	}
	if err := m.store.SaveLifecycle(state.StateStopped); err != nil {
		return Result{}, err
	}

	em.Emit(events.StepComplete, events.StatusOK,
		zap.String("instance_id", rec.record.InstanceID))

	res := Result{State: state.StateStopped, Instance: rec.record}
	res.Cost, _ = m.cost.Estimate()
	return res, nil
}
