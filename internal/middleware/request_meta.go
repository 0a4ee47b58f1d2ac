package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/service"
)

// RequestMeta attaches the caller address and agent to the request context so
// service audit records can carry them.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestMeta(c.Request.Context(), service.RequestMeta{
			IP:        c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
