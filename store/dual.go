package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Default TTLs. Search results age out faster than entities because
// they are invalidated coarsely per user.
const (
	DefaultCacheTTL  = time.Hour
	DefaultSearchTTL = 10 * time.Minute
)

const instrumentationName = "github.com/rbaliyan/mailsync/store"

// Dual combines a durable DocStore with an optional Cache using the
// cache-aside pattern: reads consult the cache first and populate it
// on miss, writes go to the durable store and then invalidate rather
// than update cached entries. Cache failures are logged and absorbed;
// the durable store is always the source of truth.
type Dual[T any] struct {
	store      DocStore
	cache      Cache
	collection string
	ttl        time.Duration
	searchTTL  time.Duration
	logger     *slog.Logger
	hits       metric.Int64Counter
	misses     metric.Int64Counter
	attrs      metric.MeasurementOption
}

// DualOption configures a Dual store.
type DualOption func(*dualOptions)

type dualOptions struct {
	cache     Cache
	ttl       time.Duration
	searchTTL time.Duration
	logger    *slog.Logger
	meter     metric.MeterProvider
}

// WithCache attaches a cache layer. Without it the Dual store reads
// and writes the durable store directly.
func WithCache(c Cache) DualOption {
	return func(o *dualOptions) { o.cache = c }
}

// WithTTL sets the cache TTL for documents.
func WithTTL(ttl time.Duration) DualOption {
	return func(o *dualOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithSearchTTL sets the cache TTL for search results. Defaults to
// DefaultSearchTTL.
func WithSearchTTL(ttl time.Duration) DualOption {
	return func(o *dualOptions) {
		if ttl > 0 {
			o.searchTTL = ttl
		}
	}
}

// WithLogger sets the logger used for cache warnings.
func WithLogger(l *slog.Logger) DualOption {
	return func(o *dualOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeterProvider enables cache hit and miss counters on the given
// meter provider.
func WithMeterProvider(mp metric.MeterProvider) DualOption {
	return func(o *dualOptions) { o.meter = mp }
}

// NewDual returns a dual store over the given collection.
func NewDual[T any](s DocStore, collection string, opts ...DualOption) *Dual[T] {
	o := dualOptions{
		ttl:       DefaultCacheTTL,
		searchTTL: DefaultSearchTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	d := &Dual[T]{
		store:      s,
		cache:      o.cache,
		collection: collection,
		ttl:        o.ttl,
		searchTTL:  o.searchTTL,
		logger:     o.logger.With("collection", collection),
	}
	if o.meter != nil {
		meter := o.meter.Meter(instrumentationName)
		d.hits, _ = meter.Int64Counter("mailsync.cache.hits",
			metric.WithDescription("Cache hits"))
		d.misses, _ = meter.Int64Counter("mailsync.cache.misses",
			metric.WithDescription("Cache misses"))
		d.attrs = metric.WithAttributes(attribute.String("collection", collection))
	}
	return d
}

// Collection returns the backing collection name.
func (d *Dual[T]) Collection() string {
	return d.collection
}

// Get returns the document with the given id, consulting the cache
// first. A miss is filled from the durable store. Absent documents
// are never cached.
func (d *Dual[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, ErrInvalidID
	}

	key := EntityKey(d.collection, id)
	if d.cache != nil {
		if raw, err := d.cache.Get(ctx, key); err == nil {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				d.recordHit(ctx)
				return v, nil
			}
			// Corrupt entry, drop it and fall through.
			d.evict(ctx, key)
		} else if !IsCacheMiss(err) {
			d.logger.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		}
		d.recordMiss(ctx)
	}

	raw, err := d.store.Get(ctx, d.collection, id)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("store: decode %s/%s: %w", d.collection, id, err)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
			d.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
		}
	}
	return v, nil
}

// Put writes the document to the durable store, then removes the
// cached entry and invalidates the owner's search results. Cached
// entries are never updated in place.
func (d *Dual[T]) Put(ctx context.Context, id string, v T, userID string) error {
	if id == "" {
		return ErrInvalidID
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", d.collection, id, err)
	}
	if err := d.store.Put(ctx, d.collection, id, raw); err != nil {
		return err
	}
	d.invalidate(ctx, id, userID)
	return nil
}

// Delete removes the document from the durable store and drops the
// derived cache entries. Deleting an absent document succeeds.
func (d *Dual[T]) Delete(ctx context.Context, id string, userID string) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := d.store.Delete(ctx, d.collection, id); err != nil {
		return err
	}
	d.invalidate(ctx, id, userID)
	return nil
}

// Search runs the query against the durable store, caching non-empty
// result lists under the user's tag so any write for that user drops
// them. userID may be empty, in which case the result is not cached.
func (d *Dual[T]) Search(ctx context.Context, userID string, q Query) ([]T, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var key string
	if d.cache != nil && userID != "" {
		key = SearchKey(d.collection, userID, q.Fingerprint())
		if raw, err := d.cache.Get(ctx, key); err == nil {
			var out []T
			if err := json.Unmarshal(raw, &out); err == nil {
				d.recordHit(ctx)
				return out, nil
			}
			d.evict(ctx, key)
		} else if !IsCacheMiss(err) {
			d.logger.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		}
		d.recordMiss(ctx)
	}

	docs, err := d.store.Search(ctx, d.collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, raw := range docs {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("store: decode %s search result: %w", d.collection, err)
		}
		out = append(out, v)
	}

	// Empty results are not cached so new documents show up without
	// waiting for a TTL.
	if key != "" && len(out) > 0 {
		raw, err := json.Marshal(out)
		if err == nil {
			if err := d.cache.SetTagged(ctx, key, raw, d.searchTTL, UserTag(d.collection, userID)); err != nil {
				d.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
			}
		}
	}
	return out, nil
}

func (d *Dual[T]) invalidate(ctx context.Context, id, userID string) {
	if d.cache == nil {
		return
	}
	d.evict(ctx, EntityKey(d.collection, id))
	if userID != "" {
		if err := d.cache.InvalidateTag(ctx, UserTag(d.collection, userID)); err != nil {
			d.logger.WarnContext(ctx, "cache tag invalidation failed", "user", userID, "error", err)
		}
	}
}

func (d *Dual[T]) evict(ctx context.Context, key string) {
	if err := d.cache.Delete(ctx, key); err != nil {
		d.logger.WarnContext(ctx, "cache delete failed", "key", key, "error", err)
	}
}

func (d *Dual[T]) recordHit(ctx context.Context) {
	if d.hits != nil {
		d.hits.Add(ctx, 1, d.attrs)
	}
}

func (d *Dual[T]) recordMiss(ctx context.Context) {
	if d.misses != nil {
		d.misses.Add(ctx, 1, d.attrs)
	}
}
