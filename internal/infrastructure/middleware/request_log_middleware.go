package middleware

import (
	"context"
	"fmt"
	"time"

	"mpcomm/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogMiddleware logs request completion through the context logger,
// picking up the trace and contact identifiers resolved earlier in the
// chain.
func RequestLogMiddleware(log *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		if contactID, ok := c.Get("contact_id"); ok {
			ctx = context.WithValue(ctx, "contact_id", fmt.Sprint(contactID))
		}

		log.WithContext(ctx).Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
