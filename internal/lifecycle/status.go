package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Status reconciles and reports without mutating the instance. The lock is
// held briefly so the report never observes a mid-mutation store; the
// health probe is a single attempt, not a grace-period wait. A NONE result
// is a valid "nothing to show", not a fault.
func (m *Manager) Status(ctx context.Context) (Result, error) {
	return m.withLock(ctx, "status", m.statusLocked)
}

func (m *Manager) statusLocked(ctx context.Context, em *events.Emitter) (Result, error) {
	rec, err := m.reconcile(ctx, em)
	if err != nil {
		return Result{}, err
	}

	res := m.result(rec, false)

	if rec.state == state.StateRunning && rec.record.PublicAddress != "" {
		snap, probeErr := m.prober.ProbeOnce(ctx, rec.record.PublicAddress)
		if probeErr != nil {
			em.Emit(events.StepHealthCheck, events.StatusWarn,
				append(healthFields(snap), zap.Error(probeErr))...)
		} else {
			em.Emit(events.StepHealthCheck, events.StatusOK, healthFields(snap)...)
		}
		res.Health = &snap
	}

	em.Emit(events.StepComplete, events.StatusOK,
		zap.String("state", string(res.State)),
		zap.String("instance_id", res.Instance.InstanceID),
		zap.Float64("estimated_cost", res.Cost.EstimatedCost))
	return res, nil
}
