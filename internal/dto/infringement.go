package dto

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

// CreateInfringementTypeRequest adds a catalog entry.
type CreateInfringementTypeRequest struct {
	Code               string          `json:"code" binding:"required"`
	Name               string          `json:"name" binding:"required"`
	Severity           models.Severity `json:"severity" binding:"required"`
	DefaultPoints      int             `json:"default_points"`
	DefaultFineAmount  decimal.Decimal `json:"default_fine_amount"`
	StatutoryLimitDays int             `json:"statutory_limit_days" binding:"required"`
}

// ToInput converts the request.
func (r CreateInfringementTypeRequest) ToInput() models.CreateInfringementTypeInput {
	return models.CreateInfringementTypeInput{
		Code:               r.Code,
		Name:               r.Name,
		Severity:           r.Severity,
		DefaultPoints:      r.DefaultPoints,
		DefaultFineAmount:  r.DefaultFineAmount,
		StatutoryLimitDays: r.StatutoryLimitDays,
	}
}

// CreateInfringementRequest records an infringement.
type CreateInfringementRequest struct {
	DriverID           string           `json:"driver_id" binding:"required"`
	InfringementTypeID string           `json:"infringement_type_id" binding:"required"`
	VehicleID          *string          `json:"vehicle_id,omitempty"`
	IncidentDate       string           `json:"incident_date" binding:"required"`
	PenaltyPoints      *int             `json:"penalty_points,omitempty"`
	FineAmount         *decimal.Decimal `json:"fine_amount,omitempty"`
	Notes              string           `json:"notes"`
	Confirm            bool             `json:"confirm"`
	IssueDate          *string          `json:"issue_date,omitempty"`
}

// ToInput converts the request.
func (r CreateInfringementRequest) ToInput() (models.CreateInfringementInput, error) {
	incident, err := ParseDate("incident_date", r.IncidentDate)
	if err != nil {
		return models.CreateInfringementInput{}, err
	}
	issue, err := ParseOptionalDate("issue_date", r.IssueDate)
	if err != nil {
		return models.CreateInfringementInput{}, err
	}
	return models.CreateInfringementInput{
		DriverID:           r.DriverID,
		InfringementTypeID: r.InfringementTypeID,
		VehicleID:          r.VehicleID,
		IncidentDate:       incident,
		PenaltyPoints:      r.PenaltyPoints,
		FineAmount:         r.FineAmount,
		Notes:              r.Notes,
		Confirm:            r.Confirm,
		IssueDate:          issue,
	}, nil
}

// InfringementQuery captures GET /infringements filters.
type InfringementQuery struct {
	DateRange
	DriverID string `form:"driver_id"`
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// ToFilter converts the query. Status accepts a comma separated list.
func (q InfringementQuery) ToFilter() (models.InfringementFilter, error) {
	from, to, err := q.Bounds()
	if err != nil {
		return models.InfringementFilter{}, err
	}
	filter := models.InfringementFilter{DriverID: q.DriverID, From: from, To: to, Page: q.Page, PageSize: q.PageSize}
	for _, s := range strings.Split(q.Status, ",") {
		if s = strings.TrimSpace(s); s != "" {
			filter.Status = append(filter.Status, models.InfringementStatus(s))
		}
	}
	return filter, nil
}

// IssueRequest activates a pending infringement.
type IssueRequest struct {
	IssueDate string `json:"issue_date"`
}

// ResolveRequest settles an infringement.
type ResolveRequest struct {
	PaymentDate *string `json:"payment_date,omitempty"`
}
