package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Client for tests. It models a single instance with
// realistic state transitions (pending settles to running, stopping to
// stopped) and counts mutating calls so idempotency properties can be
// asserted.
type Fake struct {
	mu sync.Mutex

	instance *Instance

	// transitionAfter is how many Describe calls an intermediate state
	// survives before settling; 0 settles immediately.
	transitionAfter int
	pendingSeen     int
	stoppingSeen    int

	nextID int

	RunCalls       int
	StartCalls     int
	StopCalls      int
	TerminateCalls int

	// Errs, when set, are returned by the corresponding call once.
	DescribeErr  error
	RunErr       error
	StartErr     error
	StopErr      error
	TerminateErr error
}

// NewFake creates a fake with no instance and immediate transitions
func NewFake() *Fake {
	return &Fake{}
}

// SetTransitionAfter makes intermediate states survive n Describe calls
func (f *Fake) SetTransitionAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitionAfter = n
}

// Instance returns a copy of the current instance, or nil
func (f *Fake) Instance() *Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instance == nil {
		return nil
	}
	cp := *f.instance
	return &cp
}

// TerminateOutOfBand models an external termination the store knows
// nothing about, for drift scenarios.
func (f *Fake) TerminateOutOfBand() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instance = nil
}

// SetStatus forces the instance into a status
func (f *Fake) SetStatus(st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instance != nil {
		f.instance.Status = st
	}
}

func (f *Fake) Describe(ctx context.Context, tags map[string]string) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DescribeErr != nil {
		err := f.DescribeErr
		f.DescribeErr = nil
		return nil, err
	}
	if f.instance == nil {
		return nil, nil
	}

	// Settle intermediate states after the configured number of observations.
	switch f.instance.Status {
	case StatusPending:
		f.pendingSeen++
		if f.pendingSeen > f.transitionAfter {
			f.instance.Status = StatusRunning
			f.instance.PublicAddress = "203.0.113.10"
		}
	case StatusStopping:
		f.stoppingSeen++
		if f.stoppingSeen > f.transitionAfter {
			f.instance.Status = StatusStopped
			f.instance.PublicAddress = ""
		}
	}

	for k, v := range tags {
		if f.instance.Tags[k] != v {
			return nil, nil
		}
	}

	cp := *f.instance
	return &cp, nil
}

func (f *Fake) Run(ctx context.Context, spec RunSpec) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RunErr != nil {
		err := f.RunErr
		f.RunErr = nil
		return nil, err
	}

	f.RunCalls++
	f.nextID++
	f.pendingSeen = 0

	tags := map[string]string{"Name": spec.Name}
	for k, v := range spec.Tags {
		tags[k] = v
	}
	f.instance = &Instance{
		ID:         fmt.Sprintf("i-fake%04d", f.nextID),
		Type:       spec.InstanceType,
		Zone:       spec.Zone,
		Tags:       tags,
		LaunchedAt: time.Now().UTC(),
		Status:     StatusPending,
	}
	cp := *f.instance
	return &cp, nil
}

func (f *Fake) Start(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartErr != nil {
		err := f.StartErr
		f.StartErr = nil
		return err
	}

	f.StartCalls++
	if f.instance == nil || f.instance.ID != instanceID {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	// Start of a running instance is a provider-side no-op.
	if f.instance.Status == StatusStopped {
		f.instance.Status = StatusPending
		f.pendingSeen = 0
	}
	return nil
}

func (f *Fake) Stop(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StopErr != nil {
		err := f.StopErr
		f.StopErr = nil
		return err
	}

	f.StopCalls++
	if f.instance == nil || f.instance.ID != instanceID {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	if f.instance.Status == StatusRunning || f.instance.Status == StatusPending {
		f.instance.Status = StatusStopping
		f.stoppingSeen = 0
	}
	return nil
}

func (f *Fake) Terminate(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TerminateErr != nil {
		err := f.TerminateErr
		f.TerminateErr = nil
		return err
	}

	f.TerminateCalls++
	if f.instance != nil && f.instance.ID == instanceID {
		f.instance = nil
	}
	return nil
}
