package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilDone(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("not yet")
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return false, errors.New("still failing")
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("error = %v, want ErrExhausted", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoPermanentErrorStopsRetrying(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	err := p.Do(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return true, permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("error = %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 100, BaseDelay: 50 * time.Millisecond}
	err := p.Do(ctx, func(ctx context.Context) (bool, error) {
		calls++
		cancel()
		return false, errors.New("keep going")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	if d := p.delay(1); d != time.Second {
		t.Errorf("delay(1) = %v, want 1s", d)
	}
	if d := p.delay(2); d != 2*time.Second {
		t.Errorf("delay(2) = %v, want 2s", d)
	}
	if d := p.delay(5); d != 4*time.Second {
		t.Errorf("delay(5) = %v, want cap 4s", d)
	}
}
