package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/dto"
	"github.com/noah-isme/fleet-compliance-api/internal/middleware"
	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

func scopeFromContext(c *gin.Context) models.Scope {
	return models.ScopeFromClaims(middleware.Claims(c))
}

func badRequest(c *gin.Context, err error, message string) {
	response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
}

// bindJSON decodes the body and reports a validation error on failure.
func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		badRequest(c, err, message)
		return false
	}
	return true
}

// queryDate reads an optional calendar date from the query string.
func queryDate(c *gin.Context, name string) (time.Time, bool) {
	d, err := dto.ParseDate(name, c.Query(name))
	if err != nil {
		badRequest(c, err, err.Error())
		return time.Time{}, false
	}
	return d, true
}
