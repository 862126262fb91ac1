package provider

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors mapping remote failures to stable categories.
var (
	// ErrAuth means the access token is missing, expired or revoked.
	ErrAuth = errors.New("provider: authentication failed")

	// ErrPermission means the token lacks the required scope.
	ErrPermission = errors.New("provider: permission denied")

	// ErrNotFound means the message or folder does not exist remotely.
	ErrNotFound = errors.New("provider: not found")

	// ErrRateLimited means the provider throttled the request.
	ErrRateLimited = errors.New("provider: rate limited")

	// ErrUnavailable means the provider is temporarily failing.
	ErrUnavailable = errors.New("provider: unavailable")

	// ErrInvalidRequest means the request was rejected as malformed.
	ErrInvalidRequest = errors.New("provider: invalid request")
)

// RateLimitedError carries the server-suggested backoff. It unwraps
// to ErrRateLimited.
type RateLimitedError struct {
	Delay time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("provider: rate limited, retry after %s", e.Delay)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter returns the suggested backoff delay.
func (e *RateLimitedError) RetryAfter() time.Duration { return e.Delay }

// IsRetryable reports whether the operation may succeed on retry.
// Auth, permission, not-found and malformed requests never will.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}
