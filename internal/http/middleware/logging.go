// README: Request logging and panic recovery.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/logger"
)

// Logging emits one structured line per request after it completes.
func Logging(log logger.ILogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("elapsed", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		)
	}
}
