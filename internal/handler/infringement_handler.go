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

type infringementService interface {
	CreateType(ctx context.Context, scope models.Scope, in models.CreateInfringementTypeInput) (*models.InfringementType, error)
	ListTypes(ctx context.Context, scope models.Scope, activeOnly bool) ([]models.InfringementType, error)
	Create(ctx context.Context, scope models.Scope, in models.CreateInfringementInput) (*models.Infringement, error)
	Issue(ctx context.Context, scope models.Scope, id string, issueDate time.Time) (*models.Infringement, error)
	Resolve(ctx context.Context, scope models.Scope, id string, paymentDate *time.Time) (*models.Infringement, error)
	Get(ctx context.Context, scope models.Scope, id string) (*models.Infringement, error)
	List(ctx context.Context, scope models.Scope, filter models.InfringementFilter) ([]models.Infringement, *models.Pagination, error)
	FileAppeal(ctx context.Context, scope models.Scope, in models.FileAppealInput) (*models.Appeal, error)
	ListAppeals(ctx context.Context, scope models.Scope, infringementID string) ([]models.Appeal, error)
	StartAppealReview(ctx context.Context, scope models.Scope, id string, hearingDate *time.Time) (*models.Appeal, error)
	DecideAppeal(ctx context.Context, scope models.Scope, id string, decision models.AppealDecision) (*models.Appeal, error)
	WithdrawAppeal(ctx context.Context, scope models.Scope, id string) (*models.Appeal, error)
}

// InfringementHandler exposes the infringement catalog, lifecycle and appeals.
type InfringementHandler struct {
	service infringementService
}

// NewInfringementHandler builds a new handler.
func NewInfringementHandler(service infringementService) *InfringementHandler {
	return &InfringementHandler{service: service}
}

// ListTypes godoc
// @Summary List infringement types
// @Tags Infringements
// @Produce json
// @Param all query bool false "Include inactive types"
// @Success 200 {object} response.Envelope
// @Router /infringement-types [get]
func (h *InfringementHandler) ListTypes(c *gin.Context) {
	types, err := h.service.ListTypes(c.Request.Context(), scopeFromContext(c), c.Query("all") != "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, nil)
}

// CreateType godoc
// @Summary Add an infringement type to the catalog
// @Tags Infringements
// @Accept json
// @Produce json
// @Param payload body dto.CreateInfringementTypeRequest true "Type"
// @Success 201 {object} response.Envelope
// @Router /infringement-types [post]
func (h *InfringementHandler) CreateType(c *gin.Context) {
	var req dto.CreateInfringementTypeRequest
	if !bindJSON(c, &req, "invalid infringement type payload") {
		return
	}
	t, err := h.service.CreateType(c.Request.Context(), scopeFromContext(c), req.ToInput())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, t)
}

// Create godoc
// @Summary Record an infringement
// @Tags Infringements
// @Accept json
// @Produce json
// @Param payload body dto.CreateInfringementRequest true "Infringement"
// @Success 201 {object} response.Envelope
// @Router /infringements [post]
func (h *InfringementHandler) Create(c *gin.Context) {
	var req dto.CreateInfringementRequest
	if !bindJSON(c, &req, "invalid infringement payload") {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	inf, err := h.service.Create(c.Request.Context(), scopeFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, inf)
}

// List godoc
// @Summary List infringements
// @Tags Infringements
// @Produce json
// @Param driver_id query string false "Driver ID"
// @Param status query string false "Comma separated statuses"
// @Param from query string false "Earliest incident date"
// @Param to query string false "Latest incident date"
// @Success 200 {object} response.Envelope
// @Router /infringements [get]
func (h *InfringementHandler) List(c *gin.Context) {
	var q dto.InfringementQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err, "invalid query")
		return
	}
	filter, err := q.ToFilter()
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	items, page, err := h.service.List(c.Request.Context(), scopeFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, page)
}

// Get godoc
// @Summary Get an infringement
// @Tags Infringements
// @Produce json
// @Param id path string true "Infringement ID"
// @Success 200 {object} response.Envelope
// @Router /infringements/{id} [get]
func (h *InfringementHandler) Get(c *gin.Context) {
	inf, err := h.service.Get(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, inf, nil)
}

// Issue godoc
// @Summary Issue a pending infringement
// @Tags Infringements
// @Accept json
// @Produce json
// @Param id path string true "Infringement ID"
// @Param payload body dto.IssueRequest false "Issue date"
// @Success 200 {object} response.Envelope
// @Router /infringements/{id}/issue [post]
func (h *InfringementHandler) Issue(c *gin.Context) {
	var req dto.IssueRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid issue payload") {
		return
	}
	issue, err := dto.ParseDate("issue_date", req.IssueDate)
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	inf, err := h.service.Issue(c.Request.Context(), scopeFromContext(c), c.Param("id"), issue)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, inf, nil)
}

// Resolve godoc
// @Summary Resolve an infringement and post its penalty points
// @Tags Infringements
// @Accept json
// @Produce json
// @Param id path string true "Infringement ID"
// @Param payload body dto.ResolveRequest false "Payment date"
// @Success 200 {object} response.Envelope
// @Router /infringements/{id}/resolve [post]
func (h *InfringementHandler) Resolve(c *gin.Context) {
	var req dto.ResolveRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid resolve payload") {
		return
	}
	paid, err := dto.ParseOptionalDate("payment_date", req.PaymentDate)
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	inf, err := h.service.Resolve(c.Request.Context(), scopeFromContext(c), c.Param("id"), paid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, inf, nil)
}

// FileAppeal godoc
// @Summary Appeal an active infringement
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Infringement ID"
// @Param payload body dto.FileAppealRequest true "Appeal"
// @Success 201 {object} response.Envelope
// @Router /infringements/{id}/appeals [post]
func (h *InfringementHandler) FileAppeal(c *gin.Context) {
	var req dto.FileAppealRequest
	if !bindJSON(c, &req, "invalid appeal payload") {
		return
	}
	in, err := req.ToInput(c.Param("id"))
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	appeal, err := h.service.FileAppeal(c.Request.Context(), scopeFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appeal)
}

// ListAppeals godoc
// @Summary List appeals of an infringement
// @Tags Appeals
// @Produce json
// @Param id path string true "Infringement ID"
// @Success 200 {object} response.Envelope
// @Router /infringements/{id}/appeals [get]
func (h *InfringementHandler) ListAppeals(c *gin.Context) {
	appeals, err := h.service.ListAppeals(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeals, nil)
}

// ReviewAppeal godoc
// @Summary Start reviewing an appeal
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Appeal ID"
// @Param payload body dto.ReviewAppealRequest false "Hearing date"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/review [post]
func (h *InfringementHandler) ReviewAppeal(c *gin.Context) {
	var req dto.ReviewAppealRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid review payload") {
		return
	}
	hearing, err := dto.ParseOptionalDate("hearing_date", req.HearingDate)
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	appeal, err := h.service.StartAppealReview(c.Request.Context(), scopeFromContext(c), c.Param("id"), hearing)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// DecideAppeal godoc
// @Summary Approve or reject an appeal
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Appeal ID"
// @Param payload body dto.DecideAppealRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/decision [post]
func (h *InfringementHandler) DecideAppeal(c *gin.Context) {
	var req dto.DecideAppealRequest
	if !bindJSON(c, &req, "invalid decision payload") {
		return
	}
	decision, err := req.ToDecision()
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	appeal, err := h.service.DecideAppeal(c.Request.Context(), scopeFromContext(c), c.Param("id"), decision)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}

// WithdrawAppeal godoc
// @Summary Withdraw an open appeal
// @Tags Appeals
// @Produce json
// @Param id path string true "Appeal ID"
// @Success 200 {object} response.Envelope
// @Router /appeals/{id}/withdraw [post]
func (h *InfringementHandler) WithdrawAppeal(c *gin.Context) {
	appeal, err := h.service.WithdrawAppeal(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeal, nil)
}
