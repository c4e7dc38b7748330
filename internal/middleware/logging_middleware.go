// internal/middleware/logging_middleware.go
package middleware

import (
	"card-service/internal/utils"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware writes one access log line per request. WebSocket
// sessions are logged when the upgrade returns, not when the socket closes.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		logger.LogAPIRequest(
			c.Request.Method,
			path,
			c.GetString("request_id"),
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			duration,
		)
	}
}
