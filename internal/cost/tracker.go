// Package cost derives elapsed billable time and estimated spend from the
// persisted cost record. Accumulated seconds advance only while the
// reconciled state is RUNNING; stop (or drift away from RUNNING) closes
// the open interval.
package cost

import (
	"fmt"
	"math"
	"time"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Tracker maintains the cost record for the managed instance
type Tracker struct {
	store *state.Store
	rate  float64

	// now is swappable in tests
	now func() time.Time
}

// New creates a tracker using the configured hourly rate
func New(store *state.Store, hourlyRate float64) *Tracker {
	return &Tracker{store: store, rate: hourlyRate, now: time.Now}
}

// Reset starts a fresh record for a newly deployed instance
func (t *Tracker) Reset(instanceID string) error {
	rec := state.CostRecord{
		InstanceID: instanceID,
		HourlyRate: t.rate,
	}
	if err := t.store.SaveCost(rec); err != nil {
		return fmt.Errorf("failed to reset cost record: %w", err)
	}
	return nil
}

// OpenInterval marks the start of billable running time. Opening an
// already-open interval is a no-op, so repeated reconciliations of a
// RUNNING instance never double-count.
func (t *Tracker) OpenInterval(instanceID string) error {
	rec, err := t.store.Cost()
	if err != nil {
		return err
	}
	if rec.InstanceID != instanceID {
		rec = state.CostRecord{InstanceID: instanceID, HourlyRate: t.rate}
	}
	if rec.IntervalOpen() {
		return nil
	}
	rec.LastRunningStartedAt = t.now().UTC()
	rec.HourlyRate = t.rate
	return t.store.SaveCost(rec)
}

// CloseInterval folds the open interval into accumulated seconds. Closing
// when no interval is open is a no-op.
func (t *Tracker) CloseInterval() error {
	rec, err := t.store.Cost()
	if err != nil {
		return err
	}
	if !rec.IntervalOpen() {
		return nil
	}
	rec.AccumulatedSeconds += int64(t.now().UTC().Sub(rec.LastRunningStartedAt).Seconds())
	rec.LastRunningStartedAt = time.Time{}
	rec.EstimatedCost = estimate(rec.AccumulatedSeconds, rec.HourlyRate)
	return t.store.SaveCost(rec)
}

// Estimate returns the record with any open interval folded in, without
// persisting. This is what status reports.
func (t *Tracker) Estimate() (state.CostRecord, error) {
	rec, err := t.store.Cost()
	if err != nil {
		return state.CostRecord{}, err
	}
	if rec.IntervalOpen() {
		rec.AccumulatedSeconds += int64(t.now().UTC().Sub(rec.LastRunningStartedAt).Seconds())
	}
	if rec.HourlyRate == 0 {
		rec.HourlyRate = t.rate
	}
	rec.EstimatedCost = estimate(rec.AccumulatedSeconds, rec.HourlyRate)
	return rec, nil
}

func estimate(seconds int64, hourlyRate float64) float64 {
	cost := float64(seconds) / 3600 * hourlyRate
	// Round to whole cents for stable reporting.
	return math.Round(cost*100) / 100
}
