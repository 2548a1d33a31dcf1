package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/learnquest/services"
)

// LoginRecorder records the calendar-day login of a user.
type LoginRecorder interface {
	Today() string
	RecordLogin(ctx context.Context, userID uint, day string) (services.LoginResult, error)
}

// Marker reports whether a key is seen for the first time within ttl.
type Marker interface {
	First(ctx context.Context, key string, ttl time.Duration) bool
	Forget(ctx context.Context, key string)
}

// LoginPing counts any authenticated request as that day's login. The marker keeps it to one
// engine call per user and day; the engine itself is idempotent per day so a lost marker only
// costs a redundant call. Failures never affect the response.
func LoginPing(rec LoginRecorder, marker Marker, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		uid := c.GetUint(ContextUserIDKey)
		if uid == 0 || c.Writer.Status() == 401 {
			return
		}
		day := rec.Today()
		key := fmt.Sprintf("%d:%s", uid, day)
		if !marker.First(c.Request.Context(), key, 26*time.Hour) {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
		defer cancel()
		if _, err := rec.RecordLogin(ctx, uid, day); err != nil {
			marker.Forget(ctx, key)
			if log != nil {
				log.Warnw("login ping failed", "user_id", uid, "day", day, "error", err)
			}
		}
	}
}
