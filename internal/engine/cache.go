package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// CacheStore is the engine's result cache. Entries carry a TTL; reads past
// the TTL are misses. The in-memory implementation is the default; a Redis
// implementation is available for multi-instance deployments.
type CacheStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (interface{}, bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// maxCacheEntries is the size cap past which a write triggers an eager
// sweep of expired entries.
const maxCacheEntries = 10_000

type cacheEntry struct {
	value      interface{}
	ttl        time.Duration
	createdAt  time.Time
	accessedAt time.Time
	hitCount   int64
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// MemoryCache is a mutex-guarded TTL map. Expired entries are evicted
// lazily on read and eagerly once the size cap is exceeded on write.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*cacheEntry)}
}

// Set stores a value under the key with the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &cacheEntry{
		value:      value,
		ttl:        ttl,
		createdAt:  now,
		accessedAt: now,
	}

	if len(c.entries) > maxCacheEntries {
		for k, entry := range c.entries {
			if entry.expired(now) {
				delete(c.entries, k)
			}
		}
	}
	return nil
}

// Get returns the cached value, evicting it first when its TTL has passed.
func (c *MemoryCache) Get(_ context.Context, key string) (interface{}, bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(now) {
		delete(c.entries, key)
		return nil, false, nil
	}

	entry.accessedAt = now
	entry.hitCount++
	return entry.value, true, nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Close is a no-op for the in-memory cache.
func (c *MemoryCache) Close() error { return nil }

// Len reports the current entry count, expired entries included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache stores JSON-serialized values in Redis with native TTLs.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed cache with the given key prefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Set serializes the value to JSON and stores it with the TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to serialize cache value")
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to write cache entry to redis")
	}
	return nil
}

// Get returns the raw JSON of a cached value; expiry is handled by Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read cache entry from redis")
	}
	return json.RawMessage(data), true, nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
