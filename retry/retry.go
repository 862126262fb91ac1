// Package retry provides bounded retries with exponential backoff.
// Errors that expose a RetryAfter() hint, such as provider rate
// limits, have their suggested delay honored instead of the computed
// backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultAttempts = 3
	DefaultDelay    = 500 * time.Millisecond
	DefaultMaxDelay = 30 * time.Second
	DefaultFactor   = 2.0
)

// Config controls retry behavior.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Delay is the backoff before the first retry.
	Delay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Factor multiplies the delay after each attempt.
	Factor float64

	// Retryable decides whether an error is worth retrying. Nil
	// means retry everything except not-retryable marked errors.
	Retryable func(error) bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
		MaxDelay: DefaultMaxDelay,
		Factor:   DefaultFactor,
	}
}

func (c Config) normalized() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Factor < 1 {
		c.Factor = DefaultFactor
	}
	return c
}

// notRetryable wraps an error so Do stops immediately.
type notRetryable struct{ err error }

func (e *notRetryable) Error() string { return e.err.Error() }
func (e *notRetryable) Unwrap() error { return e.err }

// MarkNotRetryable wraps err so a retry loop gives up immediately.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &notRetryable{err: err}
}

// IsNotRetryable reports whether err was marked with MarkNotRetryable.
func IsNotRetryable(err error) bool {
	var nr *notRetryable
	return errors.As(err, &nr)
}

// Error is returned when all attempts fail. It unwraps to the last
// attempt's error.
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *Error) Unwrap() error { return e.Last }

// Do runs fn until it succeeds, the attempts are exhausted, or the
// context is canceled.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult runs fn until it succeeds, returning its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	delay := cfg.Delay
	var last error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		last = err

		if IsNotRetryable(err) {
			return zero, err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.Attempts {
			break
		}

		wait := delay
		var ra interface{ RetryAfter() time.Duration }
		if errors.As(err, &ra) && ra.RetryAfter() > 0 {
			wait = ra.RetryAfter()
		}
		if wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
	}

	return zero, &Error{Attempts: cfg.Attempts, Last: last}
}
