package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

type auditService interface {
	Trail(ctx context.Context, scope models.Scope, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// AuditHandler exposes the audit trail to compliance officers.
type AuditHandler struct {
	service auditService
}

// NewAuditHandler builds a new handler.
func NewAuditHandler(service auditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// Trail godoc
// @Summary Audit trail of a resource
// @Tags Audit
// @Produce json
// @Param resource path string true "driver, points_ledger_entry, daily_rest, weekly_rest, infringement_type, infringement or appeal"
// @Param id path string true "Resource ID"
// @Param limit query int false "Maximum records, 50 by default"
// @Success 200 {object} response.Envelope
// @Router /audit/{resource}/{id} [get]
func (h *AuditHandler) Trail(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, err, "limit must be an integer")
			return
		}
		limit = parsed
	}
	logs, err := h.service.Trail(c.Request.Context(), scopeFromContext(c), c.Param("resource"), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}
