// Package events emits the machine-readable milestone stream that external
// monitoring and test harnesses consume. Each milestone is one JSON record
// per line on stdout carrying at minimum step, status and timestamp. Human
// diagnostics belong to internal/logging, never here.
package events

import (
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Status classifies a milestone outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

// Milestone step names shared by all lifecycle operations.
const (
	StepLockAcquired = "lock_acquired"
	StepReconciled   = "reconciled"
	StepProviderCall = "provider_call"
	StepHealthCheck  = "health_check"
	StepDispatch     = "dispatch"
	StepComplete     = "complete"
	StepError        = "error"
)

// Emitter writes milestone records for a single operation invocation.
// Every record carries the operation name and a per-invocation id so
// interleaved runs can be told apart in aggregated logs.
type Emitter struct {
	log  *zap.Logger
	op   string
	opID string
}

// New creates an emitter writing JSON lines to stdout.
func New(op string) *Emitter {
	enc := zapcore.NewJSONEncoder(encoderConfig())
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), zapcore.InfoLevel)
	return NewWithCore(core, op)
}

// NewWithCore creates an emitter over an explicit core. Tests pass an
// observer core to assert on emitted records.
func NewWithCore(core zapcore.Core, op string) *Emitter {
	return &Emitter{
		log:  zap.New(core),
		op:   op,
		opID: uuid.NewString(),
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey: "step",
		TimeKey:    "timestamp",
		EncodeTime: zapcore.ISO8601TimeEncoder,
		// Level is redundant with the explicit status field.
		LevelKey:       "",
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

// OperationID returns the id stamped on every record from this emitter.
func (e *Emitter) OperationID() string {
	return e.opID
}

// Emit writes one milestone record.
func (e *Emitter) Emit(step string, status Status, fields ...zap.Field) {
	all := make([]zap.Field, 0, len(fields)+3)
	all = append(all,
		zap.String("status", string(status)),
		zap.String("op", e.op),
		zap.String("op_id", e.opID),
	)
	all = append(all, fields...)

	switch status {
	case StatusWarn:
		e.log.Warn(step, all...)
	case StatusError:
		e.log.Error(step, all...)
	default:
		e.log.Info(step, all...)
	}
}

// Sync flushes any buffered records.
func (e *Emitter) Sync() error {
	return e.log.Sync()
}
