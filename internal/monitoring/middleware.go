package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// MonitoringMiddleware records request metrics and logs each request
func MonitoringMiddleware(metrics *Metrics, logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		if metrics != nil {
			metrics.RecordRequest(c.Request.Method, route, statusCode, duration)
		}

		if logger != nil {
			logger.RequestLogger(c.Request.Method, c.Request.URL.Path, c.ClientIP(), statusCode, duration)

			for _, err := range c.Errors {
				logger.Warn("Request Error", "path", c.Request.URL.Path, "error", err.Err)
			}

			if duration > 5*time.Second {
				logger.Warn("Slow Request", "path", c.Request.URL.Path, "duration_ms", duration.Milliseconds())
			}
		}
	}
}
