package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/logger"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token. The verified organization is
// exposed to the request logger and rate limiter.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(logger.OrganizationKey, claims.OrganizationID)
		c.Next()
	}
}

// Claims returns the verified claims of the request, if any.
func Claims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// OrganizationKey buckets rate limits per tenant, falling back to the client IP.
func OrganizationKey(c *gin.Context) string {
	if org := c.GetString(logger.OrganizationKey); org != "" {
		return "org:" + org
	}
	return ""
}
