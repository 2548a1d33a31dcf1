package utils

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Application codes carried in the envelope. The first three digits follow the HTTP status.
const (
	CodeOK           = 0
	CodeBadRequest   = 40000
	CodeUnauthorized = 40100
	CodeForbidden    = 40300
	CodeCourseLocked = 40301
	CodeNotFound     = 40400
	CodeRateLimited  = 42900
	CodeInternal     = 50000
	CodeUnavailable  = 50300
)

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, CodeOK, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// Unavailable reports a retryable failure.
func Unavailable(ctx *gin.Context, message string, retryAfterSec int) {
	if retryAfterSec > 0 {
		ctx.Header("Retry-After", strconv.Itoa(retryAfterSec))
	}
	Respond(ctx, http.StatusServiceUnavailable, CodeUnavailable, message, gin.H{"retryable": true})
}
