package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AppealStatus captures the appeal workflow.
type AppealStatus string

const (
	AppealStatusPending     AppealStatus = "pending"
	AppealStatusUnderReview AppealStatus = "under_review"
	AppealStatusApproved    AppealStatus = "approved"
	AppealStatusRejected    AppealStatus = "rejected"
	AppealStatusWithdrawn   AppealStatus = "withdrawn"
)

// Open reports whether the appeal still awaits a decision.
func (s AppealStatus) Open() bool {
	return s == AppealStatusPending || s == AppealStatusUnderReview
}

// Appeal contests an infringement.
type Appeal struct {
	ID                  string          `db:"id" json:"id"`
	OrganizationID      string          `db:"organization_id" json:"organization_id"`
	InfringementID      string          `db:"infringement_id" json:"infringement_id"`
	Grounds             string          `db:"grounds" json:"grounds"`
	SubmittedDate       time.Time       `db:"submitted_date" json:"submitted_date"`
	HearingDate         *time.Time      `db:"hearing_date" json:"hearing_date,omitempty"`
	Status              AppealStatus    `db:"status" json:"status"`
	Outcome             string          `db:"outcome" json:"outcome"`
	PointsReduction     int             `db:"points_reduction" json:"points_reduction"`
	FineReductionAmount decimal.Decimal `db:"fine_reduction_amount" json:"fine_reduction_amount"`
	DecidedBy           *string         `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt           *time.Time      `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// AppealDecision is the reviewer's ruling on an appeal.
type AppealDecision struct {
	Approve         bool
	Outcome         string          `validate:"required,max=2000"`
	PointsReduction int             `validate:"min=0"`
	FineReduction   decimal.Decimal `validate:"-"`
	DecidedAt       time.Time       `validate:"required"`
}

// FileAppealInput contests an active infringement.
type FileAppealInput struct {
	InfringementID string    `validate:"required"`
	Grounds        string    `validate:"required,max=4000"`
	SubmittedDate  time.Time `validate:"-"`
}
