package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cppla/learnquest/utils"
)

type rateLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiter
	limit    rate.Limit
	burst    int
}

// RateLimit applies a token bucket per authenticated user, or per client IP for anonymous requests.
func RateLimit(perMinute int) gin.HandlerFunc {
	perMinute = max(perMinute, 1)
	set := &limiterSet{
		limiters: map[string]*rateLimiter{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
	}

	return func(ctx *gin.Context) {
		key := "ip:" + ctx.ClientIP()
		if uid := ctx.GetUint(ContextUserIDKey); uid != 0 {
			key = "user:" + strconv.FormatUint(uint64(uid), 10)
		}
		if !set.get(key).Allow() {
			utils.Error(ctx, http.StatusTooManyRequests, utils.CodeRateLimited, "rate limit exceeded")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, l := range s.limiters {
		if now.After(l.expires) {
			delete(s.limiters, k)
		}
	}
	if l, ok := s.limiters[key]; ok {
		l.expires = now.Add(5 * time.Minute)
		return l.limiter
	}
	l := &rateLimiter{limiter: rate.NewLimiter(s.limit, s.burst), expires: now.Add(5 * time.Minute)}
	s.limiters[key] = l
	return l.limiter
}
