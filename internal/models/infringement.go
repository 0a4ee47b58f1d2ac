package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity ranks infringement seriousness.
type Severity string

const (
	SeverityMinor   Severity = "minor"
	SeverityMajor   Severity = "major"
	SeveritySerious Severity = "serious"
	SeveritySevere  Severity = "severe"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityMajor, SeveritySerious, SeveritySevere:
		return true
	}
	return false
}

// InfringementStatus captures the infringement state machine.
type InfringementStatus string

const (
	InfringementStatusPending  InfringementStatus = "pending"
	InfringementStatusActive   InfringementStatus = "active"
	InfringementStatusResolved InfringementStatus = "resolved"
	InfringementStatusDisputed InfringementStatus = "disputed"
	InfringementStatusExpired  InfringementStatus = "expired"
)

var infringementTransitions = map[InfringementStatus][]InfringementStatus{
	InfringementStatusPending:  {InfringementStatusActive},
	InfringementStatusActive:   {InfringementStatusResolved, InfringementStatusDisputed, InfringementStatusExpired},
	InfringementStatusDisputed: {InfringementStatusActive, InfringementStatusResolved, InfringementStatusExpired},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s InfringementStatus) CanTransition(next InfringementStatus) bool {
	for _, allowed := range infringementTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InfringementType is an organization catalog entry.
type InfringementType struct {
	ID                 string          `db:"id" json:"id"`
	OrganizationID     string          `db:"organization_id" json:"organization_id"`
	Code               string          `db:"code" json:"code"`
	Name               string          `db:"name" json:"name"`
	Severity           Severity        `db:"severity" json:"severity"`
	DefaultPoints      int             `db:"default_points" json:"default_points"`
	DefaultFineAmount  decimal.Decimal `db:"default_fine_amount" json:"default_fine_amount"`
	StatutoryLimitDays int             `db:"statutory_limit_days" json:"statutory_limit_days"`
	Active             bool            `db:"active" json:"active"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Infringement is a recorded violation moving through the lifecycle.
type Infringement struct {
	ID                  string             `db:"id" json:"id"`
	OrganizationID      string             `db:"organization_id" json:"organization_id"`
	DriverID            string             `db:"driver_id" json:"driver_id"`
	VehicleID           *string            `db:"vehicle_id" json:"vehicle_id,omitempty"`
	InfringementTypeID  string             `db:"infringement_type_id" json:"infringement_type_id"`
	IncidentDate        time.Time          `db:"incident_date" json:"incident_date"`
	IssueDate           *time.Time         `db:"issue_date" json:"issue_date,omitempty"`
	Severity            Severity           `db:"severity" json:"severity"`
	PenaltyPoints       int                `db:"penalty_points" json:"penalty_points"`
	FineAmount          decimal.Decimal    `db:"fine_amount" json:"fine_amount"`
	FineReductionAmount decimal.Decimal    `db:"fine_reduction_amount" json:"fine_reduction_amount"`
	Status              InfringementStatus `db:"status" json:"status"`
	DueDate             *time.Time         `db:"due_date" json:"due_date,omitempty"`
	PaymentDate         *time.Time         `db:"payment_date" json:"payment_date,omitempty"`
	PointsEntryID       *string            `db:"points_entry_id" json:"points_entry_id,omitempty"`
	SourceRef           *string            `db:"source_ref" json:"source_ref,omitempty"`
	Notes               string             `db:"notes" json:"notes"`
	Version             int64              `db:"version" json:"version"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// NetFine is the fine after appeal reductions.
func (i Infringement) NetFine() decimal.Decimal {
	return i.FineAmount.Sub(i.FineReductionAmount)
}

// InfringementFilter constrains infringement listings.
type InfringementFilter struct {
	DriverID string
	Status   []InfringementStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// CreateInfringementInput captures a new infringement.
type CreateInfringementInput struct {
	DriverID           string           `validate:"required"`
	InfringementTypeID string           `validate:"required"`
	VehicleID          *string          `validate:"omitempty,max=64"`
	IncidentDate       time.Time        `validate:"required"`
	PenaltyPoints      *int             `validate:"omitempty,min=0"`
	FineAmount         *decimal.Decimal `validate:"omitempty"`
	Notes              string           `validate:"max=2000"`
	SourceRef          *string
	Confirm            bool
	IssueDate          *time.Time
}

// CreateInfringementTypeInput adds an entry to the organization catalog.
type CreateInfringementTypeInput struct {
	Code               string          `validate:"required,max=64"`
	Name               string          `validate:"required,max=200"`
	Severity           Severity        `validate:"required,severity"`
	DefaultPoints      int             `validate:"min=0,max=12"`
	DefaultFineAmount  decimal.Decimal `validate:"-"`
	StatutoryLimitDays int             `validate:"required,min=1,max=3650"`
}
