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

type ledgerService interface {
	PostEntry(ctx context.Context, scope models.Scope, in models.PostEntryInput) (*models.LedgerEntry, error)
	ReverseEntry(ctx context.Context, scope models.Scope, entryID, reason string) (*models.LedgerEntry, error)
	EffectiveBalance(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.PointsBalance, error)
	ListEntries(ctx context.Context, scope models.Scope, filter models.LedgerFilter) ([]models.LedgerEntry, *models.Pagination, error)
}

// LedgerHandler exposes the penalty points ledger.
type LedgerHandler struct {
	service ledgerService
}

// NewLedgerHandler builds a new handler.
func NewLedgerHandler(service ledgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// List godoc
// @Summary List ledger entries of a driver
// @Tags Points
// @Produce json
// @Param id path string true "Driver ID"
// @Param from query string false "Earliest effective date"
// @Param to query string false "Latest effective date"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/points [get]
func (h *LedgerHandler) List(c *gin.Context) {
	var q dto.LedgerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err, "invalid query")
		return
	}
	from, to, err := q.Bounds()
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	filter := models.LedgerFilter{DriverID: c.Param("id"), From: from, To: to, Page: q.Page, PageSize: q.PageSize}
	entries, page, err := h.service.ListEntries(c.Request.Context(), scopeFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, page)
}

// Post godoc
// @Summary Post a manual points adjustment
// @Tags Points
// @Accept json
// @Produce json
// @Param id path string true "Driver ID"
// @Param payload body dto.PostPointsRequest true "Posting"
// @Success 201 {object} response.Envelope
// @Router /drivers/{id}/points [post]
func (h *LedgerHandler) Post(c *gin.Context) {
	var req dto.PostPointsRequest
	if !bindJSON(c, &req, "invalid points payload") {
		return
	}
	in, err := req.ToInput(c.Param("id"))
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	entry, err := h.service.PostEntry(c.Request.Context(), scopeFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Balance godoc
// @Summary Effective points balance
// @Tags Points
// @Produce json
// @Param id path string true "Driver ID"
// @Param as_of query string false "Evaluation date, defaults to today"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/points/balance [get]
func (h *LedgerHandler) Balance(c *gin.Context) {
	asOf, ok := queryDate(c, "as_of")
	if !ok {
		return
	}
	balance, err := h.service.EffectiveBalance(c.Request.Context(), scopeFromContext(c), c.Param("id"), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, balance, nil)
}

// Reverse godoc
// @Summary Reverse a ledger entry
// @Tags Points
// @Accept json
// @Produce json
// @Param entryId path string true "Entry ID"
// @Param payload body dto.ReverseEntryRequest true "Reason"
// @Success 201 {object} response.Envelope
// @Router /points/{entryId}/reverse [post]
func (h *LedgerHandler) Reverse(c *gin.Context) {
	var req dto.ReverseEntryRequest
	if !bindJSON(c, &req, "invalid reversal payload") {
		return
	}
	entry, err := h.service.ReverseEntry(c.Request.Context(), scopeFromContext(c), c.Param("entryId"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}
