package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

// RequireRoles allows the request through only for the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireSelf limits DRIVER tokens to routes whose path parameter names their own
// driver record. Driver tokens carry the driver id as user_id.
func RequireSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if claims.Role == models.RoleDriver && c.Param(param) != claims.UserID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "drivers may only access their own records"))
			c.Abort()
			return
		}
		c.Next()
	}
}
