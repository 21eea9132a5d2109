package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(t.TempDir())

	lease, err := m.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Reclaimed {
		t.Error("fresh acquisition reported as reclaimed")
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Released lock can be taken again.
	lease2, err := m.Acquire(time.Second)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if err := lease2.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestLiveHolderBlocksAcquisition(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	lease, err := m.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release()

	// The holder is this very process, which is certainly alive.
	_, err = m.Acquire(200 * time.Millisecond)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("error = %v, want ErrBusy", err)
	}
}

func TestStaleLeaseIsReclaimed(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.alive = func(pid int) bool { return false }

	writeLease(t, dir, 4194301)

	lease, err := m.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release()
	if !lease.Reclaimed {
		t.Error("acquisition over a dead holder not reported as reclaimed")
	}
}

func TestLiveLeaseIsNotReclaimed(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.alive = func(pid int) bool { return true }

	writeLease(t, dir, 4194301)

	_, err := m.Acquire(200 * time.Millisecond)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("error = %v, want ErrBusy for live holder", err)
	}
}

// Two contenders observe the same dead holder. The loser of the reclaim
// race must leave the winner's live lease in place and report busy, not
// acquire a second lease over the same state dir.
func TestReclaimRaceLeavesWinnersLeaseAlone(t *testing.T) {
	dir := t.TempDir()
	writeLease(t, dir, 4194301)

	self := os.Getpid()
	winner := NewManager(dir)
	winner.alive = func(pid int) bool { return pid == self }

	loserRead := make(chan struct{})
	winnerHolds := make(chan struct{})
	loser := NewManager(dir)
	var once sync.Once
	loser.alive = func(pid int) bool {
		once.Do(func() {
			// The loser has read the stale record; park it until the
			// winner has reclaimed and holds a live lease.
			close(loserRead)
			<-winnerHolds
		})
		return pid == self
	}

	type outcome struct {
		lease *Lease
		err   error
	}
	loserDone := make(chan outcome, 1)
	go func() {
		l, err := loser.Acquire(0)
		loserDone <- outcome{lease: l, err: err}
	}()

	<-loserRead
	lease, err := winner.Acquire(time.Second)
	if err != nil {
		t.Fatalf("winner Acquire: %v", err)
	}
	defer lease.Release()
	if !lease.Reclaimed {
		t.Error("winner's acquisition over a dead holder not reported as reclaimed")
	}
	close(winnerHolds)

	got := <-loserDone
	if !errors.Is(got.err, ErrBusy) {
		t.Errorf("loser error = %v, want ErrBusy", got.err)
	}
	rec, err := winner.readRecord()
	if err != nil {
		t.Fatalf("read lease after race: %v", err)
	}
	if rec.HolderPID != self {
		t.Errorf("lease holder = %d, want %d (winner's live lease was removed)", rec.HolderPID, self)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir())
	lease, err := m.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := lease.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestReleaseLeavesForeignLeaseAlone(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	lease, err := m.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Simulate another process reclaiming and re-acquiring.
	writeLease(t, dir, os.Getpid()+1)

	if err := lease.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "lifecycle.lock")); err != nil {
		t.Errorf("foreign lease removed by stale Release: %v", err)
	}
}

func TestProcessAliveSelf(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("processAlive(self) = false")
	}
	if processAlive(0) {
		t.Error("processAlive(0) = true")
	}
}

func writeLease(t *testing.T, dir string, pid int) {
	t.Helper()
	rec := LeaseRecord{HolderPID: pid, AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal lease: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lifecycle.lock"), data, 0644); err != nil {
		t.Fatalf("write lease: %v", err)
	}
}
