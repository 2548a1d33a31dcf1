package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type pageCache struct {
	mu    sync.Mutex
	pages map[string][]byte
	sets  int
	onGet func()
}

func newPageCache() *pageCache {
	return &pageCache{pages: map[string][]byte{}}
}

func (c *pageCache) Get(_ context.Context, key string) ([]byte, bool) {
	if c.onGet != nil {
		c.onGet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.pages[key]
	return b, ok
}

func (c *pageCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	c.pages[key] = value
	c.sets++
	c.mu.Unlock()
}

func (c *pageCache) DeletePrefix(_ context.Context, prefix string) {
	c.mu.Lock()
	for k := range c.pages {
		if strings.HasPrefix(k, prefix) {
			delete(c.pages, k)
		}
	}
	c.mu.Unlock()
}

func (c *pageCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func TestLeaderboardTop_SkipsCacheWhenInvalidatedDuringQuery(t *testing.T) {
	f := newFixture(t, nil)
	u := f.user(t, "lee")
	f.grant(t, u, 300, "l1")

	cache := newPageCache()
	lb := NewLeaderboard(f.db, cache, time.Minute)
	// a write commits while this page is being computed
	cache.onGet = func() { lb.Invalidate(context.Background()) }

	top, err := lb.Top(context.Background(), MetricXP, 5)
	if err != nil || len(top) != 1 || top[0].MetricValue != 300 {
		t.Fatalf("top = %+v, %v", top, err)
	}
	if cache.setCount() != 0 {
		t.Fatalf("page computed across an invalidation was cached")
	}

	cache.onGet = nil
	if _, err := lb.Top(context.Background(), MetricXP, 5); err != nil {
		t.Fatal(err)
	}
	if cache.setCount() != 1 {
		t.Errorf("sets = %d, want 1 once no invalidation raced", cache.setCount())
	}
}

func TestLeaderboardTop_CallerCancellationDoesNotFailQuery(t *testing.T) {
	f := newFixture(t, nil)
	u := f.user(t, "kay")
	f.grant(t, u, 120, "k1")

	lb := NewLeaderboard(f.db, nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	top, err := lb.Top(ctx, MetricXP, 5)
	if err != nil {
		t.Fatalf("shared query failed with the caller's context: %v", err)
	}
	if len(top) != 1 || top[0].UserID != u {
		t.Errorf("top = %+v", top)
	}
}
