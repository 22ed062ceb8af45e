package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Scrapes are frequent; keep them out of info logs.
		event := logger.Info()
		if c.FullPath() == "/metrics" || c.FullPath() == "/health" {
			event = logger.Debug()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
