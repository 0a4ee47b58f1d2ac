package dto

import "github.com/noah-isme/fleet-compliance-api/internal/models"

// PostPointsRequest captures a manual ledger posting.
type PostPointsRequest struct {
	Delta          int     `json:"delta" binding:"required"`
	Reason         string  `json:"reason" binding:"required"`
	EffectiveDate  string  `json:"effective_date"`
	ExpiryDate     *string `json:"expiry_date,omitempty"`
	InfringementID *string `json:"infringement_id,omitempty"`
}

// ToInput converts the request for the given driver.
func (r PostPointsRequest) ToInput(driverID string) (models.PostEntryInput, error) {
	effective, err := ParseDate("effective_date", r.EffectiveDate)
	if err != nil {
		return models.PostEntryInput{}, err
	}
	expiry, err := ParseOptionalDate("expiry_date", r.ExpiryDate)
	if err != nil {
		return models.PostEntryInput{}, err
	}
	return models.PostEntryInput{
		DriverID:       driverID,
		Delta:          r.Delta,
		Reason:         r.Reason,
		EffectiveDate:  effective,
		ExpiryDate:     expiry,
		InfringementID: r.InfringementID,
	}, nil
}

// ReverseEntryRequest captures POST /points/:entryId/reverse.
type ReverseEntryRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// LedgerQuery captures GET /drivers/:id/points filters.
type LedgerQuery struct {
	DateRange
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}
