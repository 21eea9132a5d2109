package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/health"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Deploy creates the GPU instance. It is deliberately not idempotent: a
// second deploy while an instance exists fails with ErrConflict instead of
// silently creating a second billable instance. Deploy is the only
// operation permitted to create infrastructure.
func (m *Manager) Deploy(ctx context.Context) (Result, error) {
	return m.withLock(ctx, "deploy", m.deployLocked)
}

func (m *Manager) deployLocked(ctx context.Context, em *events.Emitter) (Result, error) {
	rec, err := m.reconcile(ctx, em)
	if err != nil {
		return Result{}, err
	}

	switch rec.state {
	case state.StateNone:
		// proceed
	case state.StateTerminated, state.StateDrift:
		// Redeploy after loss: clear the dead identity first.
		if err := m.clearIdentity(); err != nil {
			return Result{}, err
		}
	default:
		em.Emit(events.StepError, events.StatusError,
			zap.String("reason", "idempotency_conflict"),
			zap.String("instance_id", rec.record.InstanceID),
			zap.String("state", string(rec.state)))
		return m.result(rec, false), fmt.Errorf("%w (id %s, state %s)",
			ErrConflict, rec.record.InstanceID, rec.state)
	}

	keys, err := m.keyPair(m.cfg.SSHKeyDir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to prepare SSH key pair: %w", err)
	}

	spec := cloud.RunSpec{
		Name:         m.instanceName(),
		InstanceType: m.cfg.InstanceType,
		ImageID:      m.cfg.ImageID,
		Zone:         m.cfg.Region(),
		SSHPublicKey: keys.PublicKey,
		Username:     m.cfg.SSHUser,
		Tags:         map[string]string{"managed-by": "gpuctl"},
	}

	em.Emit(events.StepProviderCall, events.StatusOK,
		zap.String("call", "run"),
		zap.String("instance_type", spec.InstanceType),
		zap.String("image_id", spec.ImageID))

	inst, err := m.runInstance(ctx, spec)
	if err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{}, err
	}

	record := recordFromInstance(inst, m.cfg.Region())
	if err := m.store.SaveInstance(record); err != nil {
		return Result{}, err
	}
	if err := m.store.SaveLifecycle(state.StatePending); err != nil {
		return Result{}, err
	}

	live, err := m.waitForStatus(ctx, cloud.StatusRunning)
	if err != nil {
		em.Emit(events.StepError, events.StatusError, zap.Error(err))
		return Result{State: state.StatePending, Instance: record}, err
	}
	record.PublicAddress = live.PublicAddress
	if err := m.store.SaveInstance(record); err != nil {
		return Result{}, err
	}

	// The instance bills from here on, healthy or not.
	if err := m.cost.Reset(record.InstanceID); err != nil {
		return Result{}, err
	}
	if err := m.cost.OpenInterval(record.InstanceID); err != nil {
		return Result{}, err
	}
	if err := m.store.SaveLifecycle(state.StateRunning); err != nil {
		return Result{}, err
	}

	snap, err := m.checkHealth(ctx, em, record.PublicAddress)
	res := Result{State: state.StateRunning, Instance: record, Health: &snap}
	res.Cost, _ = m.cost.Estimate()
	if err != nil {
		return res, err
	}

	em.Emit(events.StepComplete, events.StatusOK,
		zap.String("instance_id", record.InstanceID),
		zap.String("address", record.PublicAddress))
	return res, nil
}

// runInstance launches with transient-error retries. A retry first checks
// whether the previous attempt actually created the instance, so a timeout
// on the response never doubles infrastructure.
func (m *Manager) runInstance(ctx context.Context, spec cloud.RunSpec) (*cloud.Instance, error) {
	var inst *cloud.Instance
	err := m.transient.Do(ctx, func(ctx context.Context) (bool, error) {
		existing, derr := m.cloud.Describe(ctx, m.scopeTags())
		if derr == nil && existing != nil {
			inst = existing
			return true, nil
		}

		var rerr error
		inst, rerr = m.cloud.Run(ctx, spec)
		if rerr == nil {
			return true, nil
		}
		if errors.Is(rerr, cloud.ErrTransient) {
			return false, rerr
		}
		return true, rerr
	})
	return inst, err
}

// checkHealth runs the full probe sequence and emits the health milestone.
// Failure is wrapped in ErrHealthCheck, distinct from provider failures.
func (m *Manager) checkHealth(ctx context.Context, em *events.Emitter, addr string) (health.Snapshot, error) {
	snap, err := m.prober.Probe(ctx, addr)
	if err != nil {
		em.Emit(events.StepHealthCheck, events.StatusError,
			append(healthFields(snap), zap.Error(err))...)
		return snap, fmt.Errorf("%w: %v", ErrHealthCheck, err)
	}
	em.Emit(events.StepHealthCheck, events.StatusOK, healthFields(snap)...)
	return snap, nil
}

func healthFields(snap health.Snapshot) []zap.Field {
	fields := []zap.Field{
		zap.Bool("ssh_reachable", snap.SSHReachable),
		zap.Bool("runtime_ready", snap.RuntimeReady),
		zap.Bool("accelerator_detected", snap.AcceleratorDetected),
	}
	if snap.ServiceReady != nil {
		fields = append(fields, zap.Bool("service_ready", *snap.ServiceReady))
	}
	return fields
}

func (m *Manager) clearIdentity() error {
	if err := m.store.ClearInstance(); err != nil {
		return err
	}
	if err := m.cost.CloseInterval(); err != nil {
		return err
	}
	return m.store.SaveLifecycle(state.StateNone)
}

func (m *Manager) result(rec reconciliation, noop bool) Result {
	res := Result{State: rec.state, Instance: rec.record, NoOp: noop}
	res.Cost, _ = m.cost.Estimate()
	return res
}
