package mailsync

import (
	"errors"
	"fmt"
)

// Service-level sentinel errors.
var (
	// ErrStoreRequired is returned by New when no document store is
	// configured.
	ErrStoreRequired = errors.New("mailsync: store is required")

	// ErrProviderRequired is returned by New when no mail provider is
	// configured.
	ErrProviderRequired = errors.New("mailsync: provider is required")

	// ErrResolverRequired is returned by New when no token resolver
	// is configured.
	ErrResolverRequired = errors.New("mailsync: token resolver is required")

	// ErrNotConnected is returned when the service is used before
	// Connect() or after Close().
	ErrNotConnected = errors.New("mailsync: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("mailsync: already connected")

	// ErrNotFound is returned when an email, folder or sync task
	// does not exist.
	ErrNotFound = errors.New("mailsync: not found")

	// ErrSyncTerminal is returned when a finished sync task is
	// updated again.
	ErrSyncTerminal = errors.New("mailsync: sync task already finished")
)

// ValidationError reports an invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mailsync: validation failed on %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
