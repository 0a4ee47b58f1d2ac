package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/dto"
	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

type sweepService interface {
	Run(ctx context.Context, req models.SweepRequest) (*models.SweepReport, error)
	Enqueue(req models.SweepRequest) (*models.SweepJob, error)
}

// SweepHandler lets an external scheduler trigger batch runs.
type SweepHandler struct {
	service sweepService
}

// NewSweepHandler builds a new handler.
func NewSweepHandler(service sweepService) *SweepHandler {
	return &SweepHandler{service: service}
}

// Trigger godoc
// @Summary Run a sweep
// @Description Sweeps are idempotent. By default they are queued; pass async=false to run inline.
// @Tags Sweeps
// @Accept json
// @Produce json
// @Param name path string true "ledger-expiry, infringement-expiry, weekly-rest-evaluation or export-cleanup"
// @Param payload body dto.SweepTriggerRequest false "Options"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /sweeps/{name} [post]
func (h *SweepHandler) Trigger(c *gin.Context) {
	var req dto.SweepTriggerRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid sweep payload") {
		return
	}
	asOf, err := dto.ParseDate("as_of", req.AsOf)
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	week, err := dto.ParseDate("week_start", req.WeekStart)
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	sweep := models.SweepRequest{Name: c.Param("name"), AsOf: asOf, WeekStart: week}

	if req.Async == nil || *req.Async {
		job, err := h.service.Enqueue(sweep)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, job)
		return
	}
	report, err := h.service.Run(c.Request.Context(), sweep)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
