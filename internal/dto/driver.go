package dto

import "github.com/noah-isme/fleet-compliance-api/internal/models"

// CreateDriverRequest captures POST /drivers.
type CreateDriverRequest struct {
	FullName          string  `json:"full_name" binding:"required"`
	LicenseNumber     string  `json:"license_number" binding:"required"`
	LicenseExpiryDate *string `json:"license_expiry_date,omitempty"`
	CPCExpiryDate     *string `json:"cpc_expiry_date,omitempty"`
}

// ToInput converts the request into the service input.
func (r CreateDriverRequest) ToInput() (models.CreateDriverInput, error) {
	license, err := ParseOptionalDate("license_expiry_date", r.LicenseExpiryDate)
	if err != nil {
		return models.CreateDriverInput{}, err
	}
	cpc, err := ParseOptionalDate("cpc_expiry_date", r.CPCExpiryDate)
	if err != nil {
		return models.CreateDriverInput{}, err
	}
	return models.CreateDriverInput{
		FullName:          r.FullName,
		LicenseNumber:     r.LicenseNumber,
		LicenseExpiryDate: license,
		CPCExpiryDate:     cpc,
	}, nil
}

// DriverQuery captures GET /drivers filters.
type DriverQuery struct {
	Status   string `form:"status"`
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

// ToFilter converts the query into a repository filter.
func (q DriverQuery) ToFilter() models.DriverFilter {
	filter := models.DriverFilter{Search: q.Search, Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status := models.DriverStatus(q.Status)
		filter.Status = &status
	}
	return filter
}
