package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

// FileAppealRequest contests an infringement.
type FileAppealRequest struct {
	Grounds       string `json:"grounds" binding:"required"`
	SubmittedDate string `json:"submitted_date"`
}

// ToInput converts the request for the given infringement.
func (r FileAppealRequest) ToInput(infringementID string) (models.FileAppealInput, error) {
	submitted, err := ParseDate("submitted_date", r.SubmittedDate)
	if err != nil {
		return models.FileAppealInput{}, err
	}
	return models.FileAppealInput{InfringementID: infringementID, Grounds: r.Grounds, SubmittedDate: submitted}, nil
}

// ReviewAppealRequest moves an appeal under review.
type ReviewAppealRequest struct {
	HearingDate *string `json:"hearing_date,omitempty"`
}

// DecideAppealRequest closes an appeal.
type DecideAppealRequest struct {
	Approve         bool            `json:"approve"`
	Outcome         string          `json:"outcome" binding:"required"`
	PointsReduction int             `json:"points_reduction"`
	FineReduction   decimal.Decimal `json:"fine_reduction"`
	DecidedAt       string          `json:"decided_at"`
}

// ToDecision converts the request. An empty decided_at defaults to the decision time.
func (r DecideAppealRequest) ToDecision() (models.AppealDecision, error) {
	decided, err := ParseDate("decided_at", r.DecidedAt)
	if err != nil {
		return models.AppealDecision{}, err
	}
	return models.AppealDecision{
		Approve:         r.Approve,
		Outcome:         r.Outcome,
		PointsReduction: r.PointsReduction,
		FineReduction:   r.FineReduction,
		DecidedAt:       decided,
	}, nil
}
