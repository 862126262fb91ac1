package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func fastConfig() Config {
	return Config{
		Attempts: 3,
		Delay:    time.Millisecond,
		MaxDelay: 10 * time.Millisecond,
		Factor:   2,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		return errBoom
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want retry.Error", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err does not unwrap to the last failure: %v", err)
	}
}

func TestDoStopsOnNotRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(ctx context.Context) error {
		calls++
		return MarkNotRetryable(errBoom)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want errBoom", err)
	}
}

func TestDoRetryablePredicate(t *testing.T) {
	cfg := fastConfig()
	cfg.Retryable = func(err error) bool { return false }

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errBoom
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err = %v", err)
	}
}

type hintedErr struct{ delay time.Duration }

func (e *hintedErr) Error() string             { return "throttled" }
func (e *hintedErr) RetryAfter() time.Duration { return e.delay }

func TestDoHonorsRetryAfter(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxDelay = 50 * time.Millisecond

	start := time.Now()
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &hintedErr{delay: 20 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want at least the hinted 20ms", elapsed)
	}
}

func TestDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := fastConfig()
	cfg.Delay = time.Minute
	err := Do(ctx, cfg, func(ctx context.Context) error { return errBoom })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), fastConfig(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errBoom
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if v != 42 {
		t.Errorf("v = %d, want 42", v)
	}
}
