package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fleet-compliance-api/internal/dto"
	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/pkg/response"
)

type driverService interface {
	Create(ctx context.Context, scope models.Scope, in models.CreateDriverInput) (*models.Driver, error)
	Get(ctx context.Context, scope models.Scope, id string) (*models.Driver, error)
	List(ctx context.Context, scope models.Scope, filter models.DriverFilter) ([]models.Driver, *models.Pagination, error)
	Deactivate(ctx context.Context, scope models.Scope, id string) (*models.Driver, error)
	Reactivate(ctx context.Context, scope models.Scope, id string) (*models.Driver, error)
}

// DriverHandler exposes driver management endpoints.
type DriverHandler struct {
	service driverService
}

// NewDriverHandler builds a new handler.
func NewDriverHandler(service driverService) *DriverHandler {
	return &DriverHandler{service: service}
}

// Create godoc
// @Summary Onboard a driver
// @Tags Drivers
// @Accept json
// @Produce json
// @Param payload body dto.CreateDriverRequest true "Driver payload"
// @Success 201 {object} response.Envelope
// @Router /drivers [post]
func (h *DriverHandler) Create(c *gin.Context) {
	var req dto.CreateDriverRequest
	if !bindJSON(c, &req, "invalid driver payload") {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		badRequest(c, err, err.Error())
		return
	}
	driver, err := h.service.Create(c.Request.Context(), scopeFromContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, driver)
}

// List godoc
// @Summary List drivers
// @Tags Drivers
// @Produce json
// @Param status query string false "active or inactive"
// @Param search query string false "Name or licence search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /drivers [get]
func (h *DriverHandler) List(c *gin.Context) {
	var q dto.DriverQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err, "invalid query")
		return
	}
	drivers, page, err := h.service.List(c.Request.Context(), scopeFromContext(c), q.ToFilter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drivers, page)
}

// Get godoc
// @Summary Get a driver
// @Tags Drivers
// @Produce json
// @Param id path string true "Driver ID"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id} [get]
func (h *DriverHandler) Get(c *gin.Context) {
	driver, err := h.service.Get(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, driver, nil)
}

// Deactivate godoc
// @Summary Deactivate a driver
// @Tags Drivers
// @Produce json
// @Param id path string true "Driver ID"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/deactivate [post]
func (h *DriverHandler) Deactivate(c *gin.Context) {
	driver, err := h.service.Deactivate(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, driver, nil)
}

// Reactivate godoc
// @Summary Reactivate a driver
// @Tags Drivers
// @Produce json
// @Param id path string true "Driver ID"
// @Success 200 {object} response.Envelope
// @Router /drivers/{id}/reactivate [post]
func (h *DriverHandler) Reactivate(c *gin.Context) {
	driver, err := h.service.Reactivate(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, driver, nil)
}
