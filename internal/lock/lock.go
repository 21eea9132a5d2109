// Package lock provides the advisory lease that serializes lifecycle
// operations against one state directory. The lease file records the
// holder's pid; a lease whose holder is no longer alive is reclaimed by
// the next acquirer, never force-removed while the holder lives.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrBusy is returned when a live holder owns the lease and the
// acquisition timeout elapses.
var ErrBusy = errors.New("lifecycle lock is held by another process")

const lockFile = "lifecycle.lock"

// LeaseRecord is the on-disk form of a held lease
type LeaseRecord struct {
	HolderPID  int       `json:"holder_pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lease is a held lock. Release must be called exactly once, normally via
// defer so interruption paths release too.
type Lease struct {
	path string
	pid  int

	// Reclaimed is set when acquisition removed a stale lease left by a
	// dead process; callers surface this as a warning event.
	Reclaimed bool

	released bool
}

// Manager acquires leases over a state directory
type Manager struct {
	path string

	// alive is swappable in tests
	alive func(pid int) bool
}

// NewManager creates a lock manager for the given state directory
func NewManager(dir string) *Manager {
	return &Manager{
		path:  filepath.Join(dir, lockFile),
		alive: processAlive,
	}
}

// Acquire takes the lease, waiting up to timeout when a live holder
// exists. A stale lease (dead holder) is reclaimed immediately.
func (m *Manager) Acquire(timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)
	reclaimed := false

	for {
		lease, err := m.tryAcquire()
		if err == nil {
			lease.Reclaimed = reclaimed
			return lease, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, err
		}

		rec, readErr := m.readRecord()
		if readErr == nil && !m.alive(rec.HolderPID) {
			// Holder died without releasing. Remove its lease and retry;
			// the O_EXCL create still decides the winner if several
			// processes reclaim at once. Removal is conditional on the
			// file still carrying the record we judged stale, so a racer
			// never deletes a live lease another reclaimer just won.
			removed, rmErr := m.removeIfStale(rec)
			if rmErr != nil {
				return nil, fmt.Errorf("failed to reclaim stale lock: %w", rmErr)
			}
			if removed {
				reclaimed = true
				continue
			}
		}

		if time.Now().After(deadline) {
			if readErr == nil {
				return nil, fmt.Errorf("%w (pid %d since %s)", ErrBusy,
					rec.HolderPID, rec.AcquiredAt.Format(time.RFC3339))
			}
			return nil, ErrBusy
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (m *Manager) tryAcquire() (*Lease, error) {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	pid := os.Getpid()
	rec := LeaseRecord{HolderPID: pid, AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		os.Remove(m.path)
		return nil, fmt.Errorf("failed to marshal lease record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(m.path)
		return nil, fmt.Errorf("failed to write lease record: %w", err)
	}

	return &Lease{path: m.path, pid: pid}, nil
}

// removeIfStale deletes the lock file only while it still holds the
// record observed during the staleness check. A mismatch means another
// process reclaimed in the meantime and may already hold a live lease;
// that lease is left untouched and the caller waits like any contender.
func (m *Manager) removeIfStale(stale LeaseRecord) (bool, error) {
	cur, err := m.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			// Another reclaimer beat us to the removal.
			return true, nil
		}
		// Unreadable or mid-rewrite; treat as changed hands.
		return false, nil
	}
	if cur.HolderPID != stale.HolderPID || !cur.AcquiredAt.Equal(stale.AcquiredAt) {
		return false, nil
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}

func (m *Manager) readRecord() (LeaseRecord, error) {
	var rec LeaseRecord
	data, err := os.ReadFile(m.path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to parse lease record: %w", err)
	}
	return rec, nil
}

// Release gives up the lease. It is idempotent and refuses to remove a
// lease taken over by another process.
func (l *Lease) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file on release: %w", err)
	}
	var rec LeaseRecord
	if err := json.Unmarshal(data, &rec); err == nil && rec.HolderPID != l.pid {
		// Someone reclaimed the lease from us; leave their file alone.
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// processAlive reports whether a process with the given pid exists.
// Signal 0 performs the existence check without delivering anything;
// EPERM still means the process is there.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
