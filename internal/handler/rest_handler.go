package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/dto"
	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

type restService interface {
	RecordDailyRest(ctx context.Context, scope models.Scope, in models.DailyRestInput) (*models.DailyRest, error)
	RecordWeeklyRest(ctx context.Context, scope models.Scope, in models.WeeklyRestBlockInput) (*models.WeeklyRest, error)
	EvaluateWeeklyRest(ctx context.Context, scope models.Scope, driverID string, weekStart, asOf time.Time) (*models.WeeklyRestResult, error)
	RecordCompensation(ctx context.Context, scope models.Scope, in models.CompensationInput) (*models.WeeklyRest, error)
	ListDailyRests(ctx context.Context, scope models.Scope, filter models.RestPeriodFilter) ([]models.DailyRest, error)
	ListWeeklyRests(ctx context.Context, scope models.Scope, filter models.RestPeriodFilter) ([]models.WeeklyRest, error)
}

// RestHandler exposes daily and weekly rest tracking.
type RestHandler struct {
	service restService
}

// NewRestHandler builds a new handler.
func NewRestHandler(service restService) *RestHandler {
	return &RestHandler{service: service}
}

// RecordDaily godoc
// @Summary Record the daily rest of a driver
// @Tags Rest
// @Accept json
// @Produce json
// @Param id path string true "Driver ID"
// @Param payload body dto.DailyRestRequest true "Daily rest"
// @Success 201 {object} response.Envelope
// @Router /drivers/{id}/daily-rests [post]
func (h *RestHandler) RecordDaily(c *gin.Context) {
	var req dto.DailyRestRequest
	if !bindJSON(c, &req, "invalid daily rest payload") {
		return
	}
	in, err := req.ToInput(c.Param("id"))
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	rest, err := h.service.RecordDailyRest(c.Request.Context(), scopeFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rest)
}

// ListDaily godoc
// @Summary List daily rests
// @Tags Rest
// @Produce json
// @Param id path string true "Driver ID"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/daily-rests [get]
func (h *RestHandler) ListDaily(c *gin.Context) {
	filter, ok := restFilter(c)
	if !ok {
		return
	}
	rests, err := h.service.ListDailyRests(c.Request.Context(), scopeFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rests, nil)
}

// RecordWeekly godoc
// @Summary Record a weekly rest block
// @Tags Rest
// @Accept json
// @Produce json
// @Param id path string true "Driver ID"
// @Param payload body dto.WeeklyRestRequest true "Weekly rest block"
// @Success 201 {object} response.Envelope
// @Router /drivers/{id}/weekly-rests [post]
func (h *RestHandler) RecordWeekly(c *gin.Context) {
	var req dto.WeeklyRestRequest
	if !bindJSON(c, &req, "invalid weekly rest payload") {
		return
	}
	in, err := req.ToInput(c.Param("id"))
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	week, err := h.service.RecordWeeklyRest(c.Request.Context(), scopeFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, week)
}

// ListWeekly godoc
// @Summary List weekly rest bookkeeping
// @Tags Rest
// @Produce json
// @Param id path string true "Driver ID"
// @Param from query string false "From date"
// @Param to query string false "To date"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/weekly-rests [get]
func (h *RestHandler) ListWeekly(c *gin.Context) {
	filter, ok := restFilter(c)
	if !ok {
		return
	}
	weeks, err := h.service.ListWeeklyRests(c.Request.Context(), scopeFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, weeks, nil)
}

// Evaluate godoc
// @Summary Evaluate one driver week
// @Tags Rest
// @Accept json
// @Produce json
// @Param id path string true "Driver ID"
// @Param payload body dto.EvaluateWeekRequest true "Week"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/weekly-rests/evaluate [post]
func (h *RestHandler) Evaluate(c *gin.Context) {
	var req dto.EvaluateWeekRequest
	if !bindJSON(c, &req, "invalid evaluation payload") {
		return
	}
	week, err := dto.ParseDate("week_start", req.WeekStart)
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	asOf, err := dto.ParseDate("as_of", req.AsOf)
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	result, err := h.service.EvaluateWeeklyRest(c.Request.Context(), scopeFromContext(c), c.Param("id"), week, asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Compensate godoc
// @Summary Record compensating rest for a reduced week
// @Tags Rest
// @Accept json
// @Produce json
// @Param id path string true "Driver ID"
// @Param payload body dto.CompensationRequest true "Compensation"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/weekly-rests/compensation [post]
func (h *RestHandler) Compensate(c *gin.Context) {
	var req dto.CompensationRequest
	if !bindJSON(c, &req, "invalid compensation payload") {
		return
	}
	in, err := req.ToInput(c.Param("id"))
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	week, err := h.service.RecordCompensation(c.Request.Context(), scopeFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

func restFilter(c *gin.Context) (models.RestPeriodFilter, bool) {
	from, ok := queryDate(c, "from")
	if !ok {
		return models.RestPeriodFilter{}, false
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return models.RestPeriodFilter{}, false
	}
	return models.RestPeriodFilter{DriverID: c.Param("id"), From: from, To: to}, true
}
