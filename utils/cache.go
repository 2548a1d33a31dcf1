package utils

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = 30 * time.Second
	cacheOpTimeout  = 2 * time.Second
)

// RedisCache stores leaderboard pages in Redis. Errors are logged and treated as misses.
type RedisCache struct {
	rc *redis.Client
}

func NewRedisCache(rc *redis.Client) *RedisCache {
	return &RedisCache{rc: rc}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			Sugar.Debugw("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.rc.Set(ctx, key, value, ttl).Err(); err != nil {
		Sugar.Warnw("cache set failed", "key", key, "error", err)
	}
}

// DeletePrefix deletes keys matching prefix using SCAN.
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var cursor uint64
	for i := 0; i < 10; i++ { // limit rounds to avoid long loops
		keys, cur, err := c.rc.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			Sugar.Warnw("cache invalidate failed", "prefix", prefix, "error", err)
			return
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := c.rc.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
		}
		if cursor == 0 {
			return
		}
	}
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the single-instance fallback when Redis is unavailable.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c.mu.Lock()
	c.entries[key] = memEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
