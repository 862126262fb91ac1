// Package redis implements store.Cache on top of a Redis server.
// Tag membership is tracked in Redis sets so InvalidateTag can drop a
// user's derived keys in one round trip.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/mailsync/store"
)

// Cache is a Redis-backed store.Cache.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New returns a cache using the given client.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	o := newOptions(opts...)
	return &Cache{
		client: client,
		prefix: o.prefix,
		ttl:    o.ttl,
	}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, nil
}

func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, c.key(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) SetTagged(ctx context.Context, key string, val []byte, ttl time.Duration, tag string) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	k := c.key(key)
	tk := c.tagKey(tag)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, k, val, ttl)
	pipe.SAdd(ctx, tk, k)
	// The tag set outlives its members slightly so a stale set only
	// costs a few extra deletes on invalidation.
	pipe.Expire(ctx, tk, ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tagged %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis: delete: %w", err)
	}
	return nil
}

func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	tk := c.tagKey(tag)
	members, err := c.client.SMembers(ctx, tk).Result()
	if err != nil {
		return fmt.Errorf("redis: tag members %s: %w", tag, err)
	}
	keys := append(members, tk)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate tag %s: %w", tag, err)
	}
	return nil
}

// Ping reports whether the Redis server is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) tagKey(tag string) string {
	return c.key("tag:" + tag)
}
