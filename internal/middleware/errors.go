package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/middleware/requestid"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

// Reporter forwards errors to an external tracker.
type Reporter func(err error, tags ...map[string]string)

// ReportErrors recovers panics and forwards server side failures to report.
func ReportErrors(report Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err, ok := recovered.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", recovered)
				}
				report(err, tagsFor(c))
				response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusInternalServerError, appErrors.ErrInternal.Message))
				c.Abort()
			}
		}()
		c.Next()
		if c.Writer.Status() < http.StatusInternalServerError || len(c.Errors) == 0 {
			return
		}
		errs := make([]error, 0, len(c.Errors))
		for _, e := range c.Errors {
			errs = append(errs, e.Err)
		}
		report(errors.Join(errs...), tagsFor(c))
	}
}

func tagsFor(c *gin.Context) map[string]string {
	tags := map[string]string{
		"method": c.Request.Method,
		"route":  c.FullPath(),
	}
	if id := requestid.Value(c); id != "" {
		tags["request_id"] = id
	}
	if claims := Claims(c); claims != nil {
		tags["organization_id"] = claims.OrganizationID
	}
	return tags
}
