package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
)

// AuthRequired ensures the request is authenticated via a JWT bearer header.
func AuthRequired() gin.HandlerFunc {
	return authenticate(false)
}

// WebsocketAuthRequired is AuthRequired for the websocket handshake. Browsers cannot set headers
// on it, so a "token" query parameter is accepted when the header is absent.
func WebsocketAuthRequired() gin.HandlerFunc {
	return authenticate(true)
}

func authenticate(allowQuery bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, code, msg := bearerToken(ctx, allowQuery)
		if tokenString == "" {
			utils.Error(ctx, http.StatusUnauthorized, code, msg)
			ctx.Abort()
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, utils.CodeUnauthorized+5, "invalid token")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Next()
	}
}

func bearerToken(ctx *gin.Context, allowQuery bool) (token string, code int, msg string) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		if q := strings.TrimSpace(ctx.Query("token")); allowQuery && q != "" {
			return q, 0, ""
		}
		return "", utils.CodeUnauthorized + 1, "authorization header missing"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", utils.CodeUnauthorized + 2, "invalid authorization header format"
	}
	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", utils.CodeUnauthorized + 3, "empty bearer token"
	}
	return token, 0, ""
}

// AdminRequired allows only the configured admin usernames. It must run after AuthRequired.
func AdminRequired(admins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(admins))
	for _, name := range utils.Unique(admins) {
		allowed[strings.ToLower(name)] = struct{}{}
	}
	return func(ctx *gin.Context) {
		name := strings.ToLower(ctx.GetString(ContextUsernameKey))
		if _, ok := allowed[name]; !ok || name == "" {
			utils.Error(ctx, http.StatusForbidden, utils.CodeForbidden, "admin only")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}
