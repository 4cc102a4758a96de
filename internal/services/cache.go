package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

const (
	// CacheKeyPrefix is the Redis key prefix for cached catalog snapshots
	CacheKeyPrefix = "cache:catalog:"
	// DefaultCacheTTL applies when no TTL is configured
	DefaultCacheTTL = 5 * time.Minute
	// MaxCacheTTL caps configured TTLs
	MaxCacheTTL = 12 * time.Hour
)

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultCacheTTL
	}
	if ttl > MaxCacheTTL {
		return MaxCacheTTL
	}
	return ttl
}

// RedisSnapshotCache stores fetched catalogs as JSON. Misses and decode
// failures both read as a miss; the caller falls back to the store.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: clampTTL(ttl)}
}

func (c *RedisSnapshotCache) GetTools(ctx context.Context, key string) ([]models.Tool, bool) {
	val, err := c.client.Get(ctx, CacheKeyPrefix+key).Result()
	if err != nil {
		return nil, false
	}
	var tools []models.Tool
	if err := json.Unmarshal([]byte(val), &tools); err != nil {
		return nil, false
	}
	return tools, true
}

func (c *RedisSnapshotCache) SetTools(ctx context.Context, key string, tools []models.Tool) error {
	jsonData, err := json.Marshal(tools)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, CacheKeyPrefix+key, jsonData, c.ttl).Err()
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context, key string) error {
	err := c.client.Del(ctx, CacheKeyPrefix+key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// MemorySnapshotCache is the in-process counterpart used without Redis.
type MemorySnapshotCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	tools   []models.Tool
	expires time.Time
}

func NewMemorySnapshotCache(ttl time.Duration) *MemorySnapshotCache {
	return &MemorySnapshotCache{ttl: clampTTL(ttl), now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *MemorySnapshotCache) GetTools(_ context.Context, key string) ([]models.Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	out := make([]models.Tool, len(e.tools))
	copy(out, e.tools)
	return out, true
}

func (c *MemorySnapshotCache) SetTools(_ context.Context, key string, tools []models.Tool) error {
	stored := make([]models.Tool, len(tools))
	copy(stored, tools)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{tools: stored, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemorySnapshotCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
