package utils

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OnceStore remembers keys for a TTL so repeated work can be skipped. Redis is preferred so all
// instances share the markers; without it the markers are per process.
type OnceStore struct {
	rc      *redis.Client
	prefix  string
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewOnceStore(rc *redis.Client, prefix string) *OnceStore {
	return &OnceStore{rc: rc, prefix: prefix, entries: map[string]time.Time{}, now: time.Now}
}

// First reports whether key was not marked yet, and marks it. A Redis failure reports true so
// callers fall through to their own idempotent path.
func (s *OnceStore) First(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		ok, err := s.rc.SetNX(ctx, s.prefix+key, "1", ttl).Result()
		if err != nil {
			Sugar.Debugw("once store setnx failed", "key", key, "error", err)
			return true
		}
		return ok
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries[key]; ok && now.Before(exp) {
		return false
	}
	// sweep expired entries occasionally to bound memory
	if len(s.entries) > 10000 {
		for k, exp := range s.entries {
			if !now.Before(exp) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[key] = now.Add(ttl)
	return true
}

// Forget removes a marker, used when the guarded work failed and should be retried.
func (s *OnceStore) Forget(ctx context.Context, key string) {
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = s.rc.Del(ctx, s.prefix+key).Err()
		return
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}
