package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signaling-core/pkg/logger"
	"signaling-core/pkg/response"
)

// Recovery recovers from panics, logs them and returns 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.FromContext(c.Request.Context()).Error("Panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				if !c.Writer.Written() {
					response.InternalError(c, "Internal server error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthCheck answers /health before any other middleware runs
func HealthCheck(serviceName string, check func(c *gin.Context) map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path != "/health" {
			c.Next()
			return
		}

		status := http.StatusOK
		body := gin.H{
			"status":  "healthy",
			"service": serviceName,
		}
		if check != nil {
			deps := check(c)
			for _, state := range deps {
				if state != "ok" {
					status = http.StatusServiceUnavailable
					body["status"] = "degraded"
				}
			}
			body["dependencies"] = deps
		}

		c.JSON(status, body)
		c.Abort()
	}
}
