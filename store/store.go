// Package store defines the persistence contracts used by mailsync:
// a durable JSON document store, a volatile cache, and a generic
// dual-store that combines the two with cache-aside reads and
// write-through invalidation.
//
// Backends live in subpackages (memory, mongo, postgres, redis) and
// implement these interfaces. None of them rely on distributed locks;
// correctness comes from idempotent upserts and last-write-wins on
// the document key.
package store

import "context"

// DocStore is a durable document store keyed by (collection, id).
// Documents are opaque JSON byte slices; the store indexes their
// top-level fields for Search.
type DocStore interface {
	// Connect establishes the backing connection. Calling it twice
	// returns ErrAlreadyConnected.
	Connect(ctx context.Context) error

	// Close releases the backing connection.
	Close(ctx context.Context) error

	// Put creates or replaces the document with the given id.
	Put(ctx context.Context, collection, id string, doc []byte) error

	// Get returns the document bytes, or ErrNotFound.
	Get(ctx context.Context, collection, id string) ([]byte, error)

	// Delete removes the document. Deleting an absent document is
	// not an error.
	Delete(ctx context.Context, collection, id string) error

	// Search returns documents matching the query, sorted and paged
	// per the query descriptor. An empty result is not an error.
	Search(ctx context.Context, collection string, q Query) ([][]byte, error)
}

// Pinger is optionally implemented by stores that can report
// connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
