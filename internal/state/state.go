// Package state persists the locally known instance identity, lifecycle
// state and accrued cost. Each entity is its own JSON document, rewritten
// atomically (write-temp-then-rename) so an interrupted operation never
// leaves a torn file behind.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LifecycleState is the reconciled belief about the managed instance
type LifecycleState string

const (
	StateNone       LifecycleState = "NONE"
	StatePending    LifecycleState = "PENDING"
	StateRunning    LifecycleState = "RUNNING"
	StateStopping   LifecycleState = "STOPPING"
	StateStopped    LifecycleState = "STOPPED"
	StateTerminated LifecycleState = "TERMINATED"

	// StateDrift is derived, not provider-native: the store believes an
	// instance exists but the provider reports it absent or terminated.
	StateDrift LifecycleState = "DRIFT"
)

// InstanceRecord identifies the managed cloud resource. InstanceID is
// non-empty only between a successful deploy and an observed terminate.
type InstanceRecord struct {
	InstanceID    string            `json:"instance_id"`
	PublicAddress string            `json:"public_address"`
	InstanceType  string            `json:"instance_type"`
	Region        string            `json:"region"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Exists reports whether a live instance identity is recorded
func (r InstanceRecord) Exists() bool {
	return r.InstanceID != ""
}

// LifecycleSnapshot is the persisted reconciled state
type LifecycleSnapshot struct {
	State     LifecycleState `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CostRecord tracks billable time. AccumulatedSeconds only advances while
// the reconciled state is RUNNING; LastRunningStartedAt is zero when no
// interval is open.
type CostRecord struct {
	InstanceID           string    `json:"instance_id"`
	AccumulatedSeconds   int64     `json:"accumulated_seconds"`
	HourlyRate           float64   `json:"hourly_rate"`
	EstimatedCost        float64   `json:"estimated_cost"`
	LastRunningStartedAt time.Time `json:"last_running_started_at"`
}

// IntervalOpen reports whether a running interval is currently open
func (c CostRecord) IntervalOpen() bool {
	return !c.LastRunningStartedAt.IsZero()
}

const (
	instanceFile  = "instance.json"
	lifecycleFile = "lifecycle.json"
	costFile      = "cost.json"
)

// Store is the file-backed state store. All mutation happens under the
// lifecycle lock; the internal mutex only guards in-process readers.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// NewStore opens (creating if needed) the state directory
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path
func (s *Store) Dir() string {
	return s.dir
}

// Instance loads the instance record; a missing file yields a zero record
func (s *Store) Instance() (InstanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec InstanceRecord
	if err := s.readJSON(instanceFile, &rec); err != nil {
		return InstanceRecord{}, err
	}
	return rec, nil
}

// SaveInstance atomically rewrites the instance record
func (s *Store) SaveInstance(rec InstanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(instanceFile, rec)
}

// ClearInstance logically deletes the identity: the record is cleared,
// not removed, so the document remains inspectable after a terminate.
func (s *Store) ClearInstance() error {
	return s.SaveInstance(InstanceRecord{})
}

// Lifecycle loads the lifecycle snapshot; missing file yields NONE
func (s *Store) Lifecycle() (LifecycleSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := LifecycleSnapshot{State: StateNone}
	if err := s.readJSON(lifecycleFile, &snap); err != nil {
		return LifecycleSnapshot{}, err
	}
	if snap.State == "" {
		snap.State = StateNone
	}
	return snap, nil
}

// SaveLifecycle atomically rewrites the lifecycle snapshot
func (s *Store) SaveLifecycle(st LifecycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(lifecycleFile, LifecycleSnapshot{State: st, UpdatedAt: time.Now().UTC()})
}

// Cost loads the cost record; a missing file yields a zero record
func (s *Store) Cost() (CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec CostRecord
	if err := s.readJSON(costFile, &rec); err != nil {
		return CostRecord{}, err
	}
	return rec, nil
}

// SaveCost atomically rewrites the cost record
func (s *Store) SaveCost(rec CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(costFile, rec)
}

func (s *Store) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

// writeJSON replaces the document atomically: marshal to a temp file in
// the same directory, fsync, then rename over the target.
func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
