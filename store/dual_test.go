package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/mailsync/store"
	"github.com/rbaliyan/mailsync/store/memory"
)

type note struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Title  string `json:"title"`
}

func setupDual(t *testing.T) (*store.Dual[note], *memory.Store, *memory.Cache) {
	t.Helper()
	docs := memory.New()
	cache := memory.NewCache()
	d := store.NewDual[note](docs, "notes", store.WithCache(cache))
	return d, docs, cache
}

func TestDualGetFillsCache(t *testing.T) {
	d, docs, cache := setupDual(t)
	ctx := context.Background()

	if err := docs.Put(ctx, "notes", "n1", []byte(`{"id":"n1","userId":"alice","title":"hello"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := d.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "hello" {
		t.Errorf("Title = %q, want hello", got.Title)
	}

	// Second read should come from the cache.
	if _, err := cache.Get(ctx, store.EntityKey("notes", "n1")); err != nil {
		t.Errorf("cache entry missing after read: %v", err)
	}
}

func TestDualGetNotFound(t *testing.T) {
	d, _, cache := setupDual(t)
	ctx := context.Background()

	if _, err := d.Get(ctx, "absent"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get absent = %v, want ErrNotFound", err)
	}
	// Absence must not be cached.
	if _, err := cache.Get(ctx, store.EntityKey("notes", "absent")); !errors.Is(err, store.ErrCacheMiss) {
		t.Errorf("negative entry was cached: %v", err)
	}
}

func TestDualPutInvalidates(t *testing.T) {
	d, _, cache := setupDual(t)
	ctx := context.Background()

	if err := d.Put(ctx, "n1", note{ID: "n1", UserID: "alice", Title: "v1"}, "alice"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := d.Get(ctx, "n1"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Warm a search result for the same user.
	res, err := d.Search(ctx, "alice", store.Query{Terms: map[string]string{"userId": "alice"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("Search = %d results, want 1", len(res))
	}

	if err := d.Put(ctx, "n1", note{ID: "n1", UserID: "alice", Title: "v2"}, "alice"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Both the entity entry and the user's search results must be gone.
	if _, err := cache.Get(ctx, store.EntityKey("notes", "n1")); !errors.Is(err, store.ErrCacheMiss) {
		t.Errorf("entity entry survived write: %v", err)
	}
	got, err := d.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get after write: %v", err)
	}
	if got.Title != "v2" {
		t.Errorf("Title = %q, want v2 after invalidation", got.Title)
	}
}

func TestDualDeleteIdempotent(t *testing.T) {
	d, _, _ := setupDual(t)
	ctx := context.Background()

	if err := d.Put(ctx, "n1", note{ID: "n1", UserID: "alice"}, "alice"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := d.Delete(ctx, "n1", "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.Delete(ctx, "n1", "alice"); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
	if _, err := d.Get(ctx, "n1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestDualSearchSkipsEmptyCache(t *testing.T) {
	d, _, cache := setupDual(t)
	ctx := context.Background()

	q := store.Query{Terms: map[string]string{"userId": "alice"}}
	res, err := d.Search(ctx, "alice", q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("Search = %d results, want 0", len(res))
	}

	key := store.SearchKey("notes", "alice", q.Fingerprint())
	if _, err := cache.Get(ctx, key); !errors.Is(err, store.ErrCacheMiss) {
		t.Errorf("empty result was cached: %v", err)
	}

	// A document written after the empty search is visible immediately.
	if err := d.Put(ctx, "n1", note{ID: "n1", UserID: "alice"}, "alice"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	res, err = d.Search(ctx, "alice", q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 {
		t.Errorf("Search after write = %d results, want 1", len(res))
	}
}

// failCache rejects every operation to prove cache errors are absorbed.
type failCache struct{}

var errCacheDown = errors.New("cache down")

func (failCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, errCacheDown }
func (failCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errCacheDown
}
func (failCache) SetTagged(ctx context.Context, key string, val []byte, ttl time.Duration, tag string) error {
	return errCacheDown
}
func (failCache) Delete(ctx context.Context, keys ...string) error    { return errCacheDown }
func (failCache) InvalidateTag(ctx context.Context, tag string) error { return errCacheDown }

func TestDualSurvivesCacheFailure(t *testing.T) {
	docs := memory.New()
	d := store.NewDual[note](docs, "notes", store.WithCache(failCache{}))
	ctx := context.Background()

	if err := d.Put(ctx, "n1", note{ID: "n1", UserID: "alice", Title: "hello"}, "alice"); err != nil {
		t.Fatalf("Put with failing cache: %v", err)
	}
	got, err := d.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get with failing cache: %v", err)
	}
	if got.Title != "hello" {
		t.Errorf("Title = %q, want hello", got.Title)
	}
	if _, err := d.Search(ctx, "alice", store.Query{Terms: map[string]string{"userId": "alice"}}); err != nil {
		t.Errorf("Search with failing cache: %v", err)
	}
}
