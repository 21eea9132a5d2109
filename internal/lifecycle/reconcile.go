package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// reconciliation is the outcome of one pass against provider ground truth
type reconciliation struct {
	state  state.LifecycleState
	record state.InstanceRecord
	live   *cloud.Instance
}

// reconcile queries provider truth and brings the state store in line with
// it before any further action. A stored instance the provider no longer
// knows becomes DRIFT; it is surfaced, never masked. The pass also keeps
// the cost interval consistent with the reconciled state so accumulated
// seconds only ever advance while RUNNING.
func (m *Manager) reconcile(ctx context.Context, em *events.Emitter) (reconciliation, error) {
	stored, err := m.store.Instance()
	if err != nil {
		return reconciliation{}, err
	}

	live, err := m.describeLive(ctx)
	if err != nil {
		em.Emit(events.StepReconciled, events.StatusError, zap.Error(err))
		return reconciliation{}, fmt.Errorf("failed to query provider state: %w", err)
	}

	rec := reconciliation{record: stored, live: live}

	switch {
	case !stored.Exists() && live == nil:
		rec.state = state.StateNone

	case !stored.Exists() && live != nil:
		// The provider holds an instance we have no record of (state file
		// lost, or created by a previous interrupted deploy). Ground truth
		// wins: adopt it.
		rec.record = recordFromInstance(live, m.cfg.Region())
		rec.state = lifecycleStateOf(live.Status)
		if err := m.store.SaveInstance(rec.record); err != nil {
			return reconciliation{}, err
		}
		m.log.Warn("adopted untracked instance from provider",
			zap.String("instance_id", live.ID),
			zap.String("status", string(live.Status)))

	case stored.Exists() && live == nil:
		// Drift: we believe an instance exists, the provider disagrees.
		rec.state = state.StateDrift

	default:
		rec.state = lifecycleStateOf(live.Status)
		if live.ID != stored.InstanceID {
			// The recorded instance is gone and another one carrying our
			// name tag took its place. Ground truth wins here too: adopt
			// the replacement rather than keep pointing mutations at a
			// dead id. Cost tracking restarts under the new identity.
			rec.record = recordFromInstance(live, m.cfg.Region())
			m.log.Warn("recorded instance replaced out of band, adopting live instance",
				zap.String("recorded_id", stored.InstanceID),
				zap.String("live_id", live.ID),
				zap.String("status", string(live.Status)))
		} else {
			// Addresses can change across stop/start cycles.
			rec.record.PublicAddress = live.PublicAddress
			rec.record.InstanceType = live.Type
		}
		if err := m.store.SaveInstance(rec.record); err != nil {
			return reconciliation{}, err
		}
	}

	// Billable time advances only while RUNNING.
	if rec.state == state.StateRunning {
		if err := m.cost.OpenInterval(rec.record.InstanceID); err != nil {
			return reconciliation{}, err
		}
	} else {
		if err := m.cost.CloseInterval(); err != nil {
			return reconciliation{}, err
		}
	}

	if err := m.store.SaveLifecycle(rec.state); err != nil {
		return reconciliation{}, err
	}

	status := events.StatusOK
	if rec.state == state.StateDrift {
		status = events.StatusWarn
	}
	em.Emit(events.StepReconciled, status,
		zap.String("state", string(rec.state)),
		zap.String("instance_id", rec.record.InstanceID),
		zap.Bool("drift", rec.state == state.StateDrift))

	return rec, nil
}

// settle waits out transitional provider states (pending, stopping) and
// re-reconciles. Operations act only on settled states.
func (m *Manager) settle(ctx context.Context, em *events.Emitter, rec reconciliation) (reconciliation, error) {
	var want cloud.Status
	switch rec.state {
	case state.StatePending:
		want = cloud.StatusRunning
	case state.StateStopping:
		want = cloud.StatusStopped
	default:
		return rec, nil
	}

	if _, err := m.waitForStatus(ctx, want); err != nil {
		em.Emit(events.StepError, events.StatusError,
			zap.String("reason", "transient_state_timeout"),
			zap.String("stuck_in", string(rec.state)))
		return rec, err
	}
	return m.reconcile(ctx, em)
}

func lifecycleStateOf(st cloud.Status) state.LifecycleState {
	switch st {
	case cloud.StatusPending:
		return state.StatePending
	case cloud.StatusRunning:
		return state.StateRunning
	case cloud.StatusStopping:
		return state.StateStopping
	case cloud.StatusStopped:
		return state.StateStopped
	case cloud.StatusTerminated:
		return state.StateTerminated
	default:
		return state.StatePending
	}
}

func recordFromInstance(inst *cloud.Instance, region string) state.InstanceRecord {
	return state.InstanceRecord{
		InstanceID:    inst.ID,
		PublicAddress: inst.PublicAddress,
		InstanceType:  inst.Type,
		Region:        region,
		Tags:          inst.Tags,
		CreatedAt:     inst.LaunchedAt,
	}
}
