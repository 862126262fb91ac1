// Package memory provides in-memory implementations of store.DocStore
// and store.Cache. Intended for tests and single-process deployments.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rbaliyan/mailsync/store"
)

// Store is an in-memory document store. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	cols map[string]map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{cols: make(map[string]map[string][]byte)}
}

func (s *Store) Connect(ctx context.Context) error { return nil }
func (s *Store) Close(ctx context.Context) error   { return nil }

func (s *Store) Put(ctx context.Context, collection, id string, doc []byte) error {
	if id == "" {
		return store.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.cols[collection]
	if col == nil {
		col = make(map[string][]byte)
		s.cols[collection] = col
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	col[id] = cp
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.cols[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	return cp, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cols[collection], id)
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, q store.Query) ([][]byte, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		raw    []byte
		fields map[string]any
	}
	var rows []row
	for _, raw := range s.cols[collection] {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		if !matches(fields, q) {
			continue
		}
		rows = append(rows, row{raw: raw, fields: fields})
	}

	if q.SortBy != "" {
		desc := q.Descending()
		sort.Slice(rows, func(i, j int) bool {
			a := fieldString(rows[i].fields, q.SortBy)
			b := fieldString(rows[j].fields, q.SortBy)
			if desc {
				return a > b
			}
			return a < b
		})
	}

	if q.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[q.Offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		cp := make([]byte, len(r.raw))
		copy(cp, r.raw)
		out = append(out, cp)
	}
	return out, nil
}

func matches(fields map[string]any, q store.Query) bool {
	for k, v := range q.Terms {
		if fieldString(fields, k) != v {
			return false
		}
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		found := false
		for _, f := range q.TextFields {
			if strings.Contains(strings.ToLower(fieldString(fields, f)), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func fieldString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

// Cache is an in-memory store.Cache with TTL expiry and tag sets.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	tags    map[string]map[string]struct{}
	now     func() time.Time
}

type cacheEntry struct {
	val []byte
	exp time.Time
}

// NewCache returns an empty in-memory cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || (!e.exp.IsZero() && c.now().After(e.exp)) {
		delete(c.entries, key)
		return nil, store.ErrCacheMiss
	}
	cp := make([]byte, len(e.val))
	copy(cp, e.val)
	return cp, nil
}

func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, val, ttl)
	return nil
}

func (c *Cache) SetTagged(ctx context.Context, key string, val []byte, ttl time.Duration, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, val, ttl)
	members := c.tags[tag]
	if members == nil {
		members = make(map[string]struct{})
		c.tags[tag] = members
	}
	members[key] = struct{}{}
	return nil
}

func (c *Cache) set(key string, val []byte, ttl time.Duration) {
	cp := make([]byte, len(val))
	copy(cp, val)
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.entries[key] = cacheEntry{val: cp, exp: exp}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.tags[tag] {
		delete(c.entries, k)
	}
	delete(c.tags, tag)
	return nil
}
