// Package cloud wraps the provider compute APIs behind the narrow contract
// the lifecycle operations consume. Adapters return structured results
// only; they never parse free-text provider output.
package cloud

import (
	"context"
	"errors"
	"time"
)

// ErrTransient marks provider errors worth retrying (throttling,
// timeouts). Adapters wrap qualifying errors with it; callers test with
// errors.Is and retry with bounded backoff.
var ErrTransient = errors.New("transient provider error")

// Status is the provider-normalized instance state
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
	StatusTerminated Status = "terminated"
)

// Instance is the provider's view of the managed resource
type Instance struct {
	ID            string
	PublicAddress string
	Type          string
	Zone          string
	Tags          map[string]string
	LaunchedAt    time.Time
	Status        Status
}

// RunSpec describes the instance to create
type RunSpec struct {
	Name         string
	InstanceType string
	ImageID      string
	Zone         string
	SSHPublicKey string
	Username     string
	Tags         map[string]string
}

// Client is the contract every provider adapter implements. Describe
// returns nil when no non-terminated instance matches the tags. Start,
// Stop and Terminate treat an "already in target state" provider response
// as success, never as an error.
type Client interface {
	Describe(ctx context.Context, tags map[string]string) (*Instance, error)
	Run(ctx context.Context, spec RunSpec) (*Instance, error)
	Start(ctx context.Context, instanceID string) error
	Stop(ctx context.Context, instanceID string) error
	Terminate(ctx context.Context, instanceID string) error
}
