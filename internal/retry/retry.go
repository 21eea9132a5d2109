// Package retry provides the bounded exponential-backoff loop shared by
// provider-state polling and health-probe grace periods.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when attempts run out before the operation
// reports done.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPoll suits provider-state polling: roughly five minutes total.
var DefaultPoll = Policy{MaxAttempts: 40, BaseDelay: 2 * time.Second, MaxDelay: 15 * time.Second}

// Do invokes fn until it reports done, the policy is exhausted, or ctx is
// cancelled. fn returns (true, nil) on success and (true, err) on a
// permanent failure that must not be retried; (false, err) requests another
// attempt after backoff.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) (done bool, err error)) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		}

		done, err := fn(ctx)
		if done {
			return err
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, p.MaxAttempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, p.MaxAttempts)
}

// delay returns the backoff before the given attempt (1-based for waits):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
