package store

import (
	"context"
	"time"
)

// Cache is a volatile byte cache with TTLs and coarse tag
// invalidation. Implementations must treat the cache as advisory:
// callers absorb cache errors and fall through to the durable store.
type Cache interface {
	// Get returns the cached bytes, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores val under key with the given TTL. A zero TTL means
	// the implementation default.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// SetTagged stores val under key and associates the key with tag,
	// so InvalidateTag can later drop it along with every other key
	// carrying the same tag.
	SetTagged(ctx context.Context, key string, val []byte, ttl time.Duration, tag string) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// InvalidateTag removes every key associated with tag.
	InvalidateTag(ctx context.Context, tag string) error
}
