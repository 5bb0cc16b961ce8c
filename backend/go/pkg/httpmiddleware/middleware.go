package httpmiddleware

import (
	"net/http"
	"time"

	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/logger"
	"factforge/backend/go/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceHeader carries the request trace id in and out.
const TraceHeader = "X-Request-ID"

// ContextTraceKey is the gin context key for the request trace id.
const ContextTraceKey = "traceID"

// KeyFunc extracts the rate-limit key from a request.
type KeyFunc func(c *gin.Context) string

// ClientIP keys requests by client address.
func ClientIP(c *gin.Context) string { return c.ClientIP() }

// RateLimit rejects requests whose key has no tokens left with 429.
func RateLimit(limiter *ratelimiter.KeyedLimiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(key(c)) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RateLimited",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// Trace assigns a trace id to every request, reusing an incoming X-Request-ID.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TraceHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextTraceKey, id)
		c.Header(TraceHeader, id)
		c.Next()
	}
}

// TraceID returns the trace id set by Trace, or "".
func TraceID(c *gin.Context) string {
	return c.GetString(ContextTraceKey)
}

// AccessLog writes one structured line per request. The request body is never logged.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithTrace(TraceID(c), c.GetString("userID")).WithRequest(models.RequestInfo{
			Method:     c.Request.Method,
			Path:       c.FullPath(),
			RemoteAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			Status:     c.Writer.Status(),
			LatencyMS:  time.Since(start).Milliseconds(),
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request served")
		}
	}
}
