package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInstancePersistence(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rec := InstanceRecord{
		InstanceID:    "i-0abc123",
		PublicAddress: "203.0.113.10",
		InstanceType:  "g4dn.xlarge",
		Region:        "us-west-2",
		Tags:          map[string]string{"Name": "rnnt-asr"},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveInstance(rec); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	loaded, err := store.Instance()
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if loaded.InstanceID != rec.InstanceID {
		t.Errorf("InstanceID = %s, want %s", loaded.InstanceID, rec.InstanceID)
	}
	if loaded.PublicAddress != rec.PublicAddress {
		t.Errorf("PublicAddress = %s, want %s", loaded.PublicAddress, rec.PublicAddress)
	}
	if loaded.Tags["Name"] != "rnnt-asr" {
		t.Errorf("Tags mismatch: %v", loaded.Tags)
	}
	if !loaded.Exists() {
		t.Error("Exists() = false for saved record")
	}
}

func TestMissingFilesYieldZeroValues(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rec, err := store.Instance()
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if rec.Exists() {
		t.Error("fresh store reports an existing instance")
	}

	snap, err := store.Lifecycle()
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if snap.State != StateNone {
		t.Errorf("State = %s, want NONE", snap.State)
	}

	cost, err := store.Cost()
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost.IntervalOpen() {
		t.Error("fresh cost record reports an open interval")
	}
}

func TestClearInstanceIsLogicalDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := store.SaveInstance(InstanceRecord{InstanceID: "i-1"}); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := store.ClearInstance(); err != nil {
		t.Fatalf("ClearInstance: %v", err)
	}

	// The document stays on disk, only its contents are cleared.
	if _, err := os.Stat(filepath.Join(dir, "instance.json")); err != nil {
		t.Errorf("instance.json removed, want cleared in place: %v", err)
	}
	rec, err := store.Instance()
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if rec.Exists() {
		t.Errorf("cleared record still has id %q", rec.InstanceID)
	}
}

func TestWritesLeaveNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := store.SaveLifecycle(StateRunning); err != nil {
			t.Fatalf("SaveLifecycle: %v", err)
		}
		if err := store.SaveCost(CostRecord{InstanceID: "i-1", HourlyRate: 0.5}); err != nil {
			t.Fatalf("SaveCost: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestLifecycleRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for _, st := range []LifecycleState{StatePending, StateRunning, StateStopped, StateDrift} {
		if err := store.SaveLifecycle(st); err != nil {
			t.Fatalf("SaveLifecycle(%s): %v", st, err)
		}
		snap, err := store.Lifecycle()
		if err != nil {
			t.Fatalf("Lifecycle: %v", err)
		}
		if snap.State != st {
			t.Errorf("State = %s, want %s", snap.State, st)
		}
		if snap.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}
	}
}
