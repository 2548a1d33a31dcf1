package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/learnquest/middleware"
	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	switch v := value.(type) {
	case uint:
		return v, v != 0
	case int:
		return uint(v), v > 0
	case float64:
		return uint(v), v > 0
	default:
		return 0, false
	}
}

// requireUserID writes 401 and returns false when the request carries no user.
func requireUserID(ctx *gin.Context) (uint, bool) {
	uid, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, utils.CodeUnauthorized+10, "unauthorized")
	}
	return uid, ok
}

func parseIDParam(ctx *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || n == 0 {
		utils.Error(ctx, http.StatusBadRequest, utils.CodeBadRequest+1, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(ctx *gin.Context, name string, def int) int {
	if v := strings.TrimSpace(ctx.Query(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryBool(ctx *gin.Context, name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(ctx.Query(name)))
	return b
}

func parseMetric(ctx *gin.Context) (services.Metric, bool) {
	m, err := services.ParseMetric(ctx.Query("metric"))
	if err != nil {
		respondError(ctx, err)
		return "", false
	}
	return m, true
}

// respondError maps engine errors onto the envelope. Transient errors are retryable and do not
// expose storage details.
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCourseLocked):
		utils.Error(ctx, http.StatusForbidden, utils.CodeCourseLocked, err.Error())
	case errors.Is(err, services.ErrValidation):
		utils.Error(ctx, http.StatusBadRequest, utils.CodeBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, utils.CodeNotFound, err.Error())
	case errors.Is(err, services.ErrTransient):
		utils.Sugar.Warnw("transient failure", "path", ctx.FullPath(), "error", err)
		utils.Unavailable(ctx, "temporarily unavailable, retry", 1)
	default:
		utils.Sugar.Errorw("unexpected failure", "path", ctx.FullPath(), "error", err)
		utils.Error(ctx, http.StatusInternalServerError, utils.CodeInternal, "internal error")
	}
}
