package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Auto makes "the instance should be usable" a single call: it reconciles
// and dispatches to exactly one concrete operation.
//
//	NONE                -> deploy
//	TERMINATED / DRIFT  -> deploy (redeploy after loss)
//	STOPPED             -> start
//	RUNNING             -> status only
//	PENDING / STOPPING  -> wait out the transition, then re-decide
func (m *Manager) Auto(ctx context.Context) (Result, error) {
	return m.withLock(ctx, "auto", m.autoLocked)
}

func (m *Manager) autoLocked(ctx context.Context, em *events.Emitter) (Result, error) {
	rec, err := m.reconcile(ctx, em)
	if err != nil {
		return Result{}, err
	}
	rec, err = m.settle(ctx, em, rec)
	if err != nil {
		return Result{}, err
	}

	var dispatch string
	var fn opFunc
	switch rec.state {
	case state.StateNone, state.StateTerminated, state.StateDrift:
		dispatch, fn = "deploy", m.deployLocked
	case state.StateStopped:
		dispatch, fn = "start", m.startLocked
	default:
		dispatch, fn = "status", m.statusLocked
	}

	m.log.Info("auto dispatching",
		zap.String("reconciled_state", string(rec.state)),
		zap.String("operation", dispatch))
	em.Emit(events.StepDispatch, events.StatusOK,
		zap.String("reconciled_state", string(rec.state)),
		zap.String("operation", dispatch))

	return fn(ctx, em)
}
