// Package lifecycle implements the deploy/start/stop/status operations and
// the auto orchestrator over the state store, lock manager, cloud client,
// health checker and cost tracker. Every operation acquires the lifecycle
// lock first, reconciles local belief against provider truth, performs at
// most one state-mutating cloud call, and emits structured milestone
// events.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/config"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cost"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/events"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/health"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/lock"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/logging"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/retry"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/sshkey"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Operation outcome errors. Callers distinguish them with errors.Is and
// map each to its own process exit code.
var (
	// ErrConflict: deploy found a live instance. Never retried and never
	// auto-resolved; the caller decides whether to stop or terminate.
	ErrConflict = errors.New("an instance already exists")

	// ErrPreconditionNotMet: start found nothing to start. Deploy is the
	// correct operation.
	ErrPreconditionNotMet = errors.New("no stopped instance to start, run deploy first")

	// ErrHealthCheck: the instance runs but did not become healthy within
	// the grace ceiling. Distinct from a provider failure.
	ErrHealthCheck = errors.New("health check failed")

	// ErrTransientState: the instance stayed in pending/stopping past the
	// polling ceiling.
	ErrTransientState = errors.New("instance did not leave transitional state in time")
)

// Prober is the health checker contract consumed by operations
type Prober interface {
	Probe(ctx context.Context, addr string) (health.Snapshot, error)
	ProbeOnce(ctx context.Context, addr string) (health.Snapshot, error)
}

// Result is what an operation reports back to the caller
type Result struct {
	State    state.LifecycleState `json:"state"`
	Instance state.InstanceRecord `json:"instance"`
	Health   *health.Snapshot     `json:"health,omitempty"`
	Cost     state.CostRecord     `json:"cost"`

	// NoOp marks idempotent completions that changed nothing (start of a
	// running instance, stop of a stopped one).
	NoOp bool `json:"no_op"`
}

// Manager wires the lifecycle operations to their collaborators
type Manager struct {
	cfg    *config.Config
	store  *state.Store
	locks  *lock.Manager
	cloud  cloud.Client
	prober Prober
	cost   *cost.Tracker
	log    *zap.Logger

	poll      retry.Policy
	transient retry.Policy

	// swappable in tests
	emitter func(op string) *events.Emitter
	keyPair func(dir string) (*sshkey.KeyPair, error)
}

// Deps carries the collaborators for New
type Deps struct {
	Config *config.Config
	Store  *state.Store
	Cloud  cloud.Client
	Prober Prober
}

// New creates a lifecycle manager
func New(deps Deps) *Manager {
	// Backoff reaches its cap within a few attempts, so the configured
	// ceiling bounds total wait as attempts times the capped delay.
	poll := retry.DefaultPoll
	poll.MaxAttempts = int(deps.Config.PollCeiling() / poll.MaxDelay)
	if poll.MaxAttempts < 3 {
		poll.MaxAttempts = 3
	}

	return &Manager{
		cfg:    deps.Config,
		store:  deps.Store,
		locks:  lock.NewManager(deps.Store.Dir()),
		cloud:  deps.Cloud,
		prober: deps.Prober,
		cost:   cost.New(deps.Store, deps.Config.HourlyRate),
		log:    logging.Logger(),

		poll:      poll,
		transient: retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 8 * time.Second},

		emitter: events.New,
		keyPair: sshkey.GetOrGenerate,
	}
}

// instanceName is the Name tag scoping all provider queries
func (m *Manager) instanceName() string {
	return m.cfg.NamePrefix + "-asr"
}

func (m *Manager) scopeTags() map[string]string {
	return map[string]string{"Name": m.instanceName()}
}

type opFunc func(ctx context.Context, em *events.Emitter) (Result, error)

// withLock runs fn under the lifecycle lock, guaranteeing release on every
// path. Lock contention surfaces as lock.ErrBusy, never as silent queueing.
func (m *Manager) withLock(ctx context.Context, op string, fn opFunc) (Result, error) {
	em := m.emitter(op)
	defer em.Sync()

	lease, err := m.locks.Acquire(m.cfg.LockTimeout())
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			em.Emit(events.StepError, events.StatusError,
				zap.String("reason", "busy"),
				zap.String("hint", "another lifecycle operation holds the lock, retry shortly"))
		} else {
			em.Emit(events.StepError, events.StatusError, zap.Error(err))
		}
		return Result{}, err
	}
	defer func() {
		if relErr := lease.Release(); relErr != nil {
			m.log.Warn("failed to release lifecycle lock", zap.Error(relErr))
		}
	}()

	if lease.Reclaimed {
		em.Emit(events.StepLockAcquired, events.StatusWarn, zap.Bool("reclaimed", true))
	} else {
		em.Emit(events.StepLockAcquired, events.StatusOK)
	}

	return fn(ctx, em)
}

// callProvider retries transient provider failures with bounded backoff.
// Anything not marked transient is returned as-is on the first attempt.
func (m *Manager) callProvider(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.transient.Do(ctx, func(ctx context.Context) (bool, error) {
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, cloud.ErrTransient) {
			return false, err
		}
		return true, err
	})
}

// describeLive queries provider ground truth, retrying transient errors
func (m *Manager) describeLive(ctx context.Context) (*cloud.Instance, error) {
	var live *cloud.Instance
	err := m.callProvider(ctx, func(ctx context.Context) error {
		var err error
		live, err = m.cloud.Describe(ctx, m.scopeTags())
		return err
	})
	return live, err
}

// waitForStatus polls the provider until the instance reaches want.
// Exhausting the polling ceiling yields ErrTransientState.
func (m *Manager) waitForStatus(ctx context.Context, want cloud.Status) (*cloud.Instance, error) {
	var live *cloud.Instance
	err := m.poll.Do(ctx, func(ctx context.Context) (bool, error) {
		var err error
		live, err = m.cloud.Describe(ctx, m.scopeTags())
		if err != nil {
			if errors.Is(err, cloud.ErrTransient) {
				return false, err
			}
			return true, err
		}
		if live == nil {
			return true, errors.New("instance disappeared while waiting for state change")
		}
		if live.Status == want {
			return true, nil
		}
		return false, errors.New("instance status is " + string(live.Status) + ", waiting for " + string(want))
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return nil, ErrTransientState
		}
		return nil, err
	}
	return live, nil
}
