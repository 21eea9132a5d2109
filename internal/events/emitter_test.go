package events

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmitCarriesRequiredFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := NewWithCore(core, "deploy")

	e.Emit(StepProviderCall, StatusOK, zap.String("call", "run"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 record, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != StepProviderCall {
		t.Errorf("step = %q, want %q", entry.Message, StepProviderCall)
	}

	fields := entry.ContextMap()
	if fields["status"] != "ok" {
		t.Errorf("status = %v, want ok", fields["status"])
	}
	if fields["op"] != "deploy" {
		t.Errorf("op = %v, want deploy", fields["op"])
	}
	if fields["op_id"] != e.OperationID() {
		t.Errorf("op_id = %v, want %v", fields["op_id"], e.OperationID())
	}
	if fields["call"] != "run" {
		t.Errorf("call = %v, want run", fields["call"])
	}
}

func TestEmitStatusSelectsLevel(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := NewWithCore(core, "stop")

	e.Emit(StepReconciled, StatusOK)
	e.Emit(StepLockAcquired, StatusWarn)
	e.Emit(StepError, StatusError)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 records, got %d", len(entries))
	}

	want := []string{"info", "warn", "error"}
	for i, entry := range entries {
		if got := entry.Level.String(); got != want[i] {
			t.Errorf("record %d level = %s, want %s", i, got, want[i])
		}
	}
}

func TestOperationIDsAreUnique(t *testing.T) {
	coreA, _ := observer.New(zap.InfoLevel)
	coreB, _ := observer.New(zap.InfoLevel)
	a := NewWithCore(coreA, "status")
	b := NewWithCore(coreB, "status")
	if a.OperationID() == b.OperationID() {
		t.Error("two emitters share an operation id")
	}
}
