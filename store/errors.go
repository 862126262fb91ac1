package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a document cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrCacheMiss is returned by a Cache when a key is absent or expired.
	ErrCacheMiss = errors.New("store: cache miss")

	// ErrInvalidID is returned when an empty or malformed document id is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrQueryInvalid is returned when a query descriptor is invalid.
	ErrQueryInvalid = errors.New("store: invalid query")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
