package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

type complianceService interface {
	ComputeScore(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.ComplianceScore, error)
	OrganizationReport(ctx context.Context, scope models.Scope, asOf time.Time) (*models.ComplianceReport, error)
}

type exportService interface {
	RenderReport(ctx context.Context, scope models.Scope, asOf time.Time, format models.ExportFormat) (*models.RenderedExport, error)
	StoreReport(ctx context.Context, scope models.Scope, asOf time.Time, format models.ExportFormat) (*models.StoredExport, error)
	OpenStored(token string) (*models.RenderedExport, error)
}

// ComplianceHandler exposes compliance scores, reports and exports.
type ComplianceHandler struct {
	scores  complianceService
	exports exportService
}

// NewComplianceHandler builds a new handler.
func NewComplianceHandler(scores complianceService, exports exportService) *ComplianceHandler {
	return &ComplianceHandler{scores: scores, exports: exports}
}

// Score godoc
// @Summary Compliance score of a driver
// @Tags Compliance
// @Produce json
// @Param id path string true "Driver ID"
// @Param as_of query string false "Assessment date, defaults to today"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/compliance [get]
func (h *ComplianceHandler) Score(c *gin.Context) {
	asOf, ok := queryDate(c, "as_of")
	if !ok {
		return
	}
	score, err := h.scores.ComputeScore(c.Request.Context(), scopeFromContext(c), c.Param("id"), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, score, nil)
}

// Report godoc
// @Summary Organization compliance report
// @Tags Compliance
// @Produce json
// @Param as_of query string false "Assessment date, defaults to today"
// @Success 200 {object} response.Envelope
// @Router /compliance/report [get]
func (h *ComplianceHandler) Report(c *gin.Context) {
	asOf, ok := queryDate(c, "as_of")
	if !ok {
		return
	}
	report, err := h.scores.OrganizationReport(c.Request.Context(), scopeFromContext(c), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Download the organization report
// @Tags Compliance
// @Produce octet-stream
// @Param format query string false "csv, pdf or xlsx"
// @Param as_of query string false "Assessment date"
// @Success 200 {file} file
// @Router /compliance/report/export [get]
func (h *ComplianceHandler) Export(c *gin.Context) {
	asOf, ok := queryDate(c, "as_of")
	if !ok {
		return
	}
	file, err := h.exports.RenderReport(c.Request.Context(), scopeFromContext(c), asOf, exportFormat(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// StoreExport godoc
// @Summary Store the organization report for later download
// @Tags Compliance
// @Produce json
// @Param format query string false "csv, pdf or xlsx"
// @Param as_of query string false "Assessment date"
// @Success 201 {object} response.Envelope
// @Router /compliance/report/exports [post]
func (h *ComplianceHandler) StoreExport(c *gin.Context) {
	asOf, ok := queryDate(c, "as_of")
	if !ok {
		return
	}
	stored, err := h.exports.StoreReport(c.Request.Context(), scopeFromContext(c), asOf, exportFormat(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, stored)
}

// Download godoc
// @Summary Download a stored export through its signed link
// @Tags Compliance
// @Produce octet-stream
// @Param token path string true "Download token"
// @Success 200 {file} file
// @Router /exports/{token} [get]
func (h *ComplianceHandler) Download(c *gin.Context) {
	file, err := h.exports.OpenStored(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func exportFormat(c *gin.Context) models.ExportFormat {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", string(models.ExportFormatCSV))))
	return models.ExportFormat(format)
}
