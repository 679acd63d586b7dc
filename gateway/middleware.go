package gateway

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/greynewell/intentd/logging"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

const (
	keyRequestID = "request_id"
	keyStage     = "stage"
)

// RequestID reuses the caller's X-Request-ID or mints one, echoes it on the
// response and stores it in the request context for logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(keyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog logs one line per request: info for 2xx/3xx, warn for 4xx,
// error for 5xx.
func AccessLog(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if stage, ok := c.Get(keyStage); ok {
			args = append(args, "stage", stage.(Stage).String())
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			log.Error(ctx, "request", args...)
		case status >= http.StatusBadRequest:
			log.Warn(ctx, "request", args...)
		default:
			log.Info(ctx, "request", args...)
		}
	}
}

// Recovery turns a handler panic into a 500 and keeps the listener alive.
func Recovery(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "panic recovered", "panic", r, "stack", string(debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
