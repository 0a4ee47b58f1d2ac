package models

import "time"

// DriverStatus captures the lifecycle state of a driver.
type DriverStatus string

const (
	DriverStatusActive   DriverStatus = "active"
	DriverStatusInactive DriverStatus = "inactive"
)

// Driver is an employee subject to the compliance model.
type Driver struct {
	ID                string       `db:"id" json:"id"`
	OrganizationID    string       `db:"organization_id" json:"organization_id"`
	FullName          string       `db:"full_name" json:"full_name"`
	LicenseNumber     string       `db:"license_number" json:"license_number"`
	LicenseExpiryDate *time.Time   `db:"license_expiry_date" json:"license_expiry_date,omitempty"`
	CPCExpiryDate     *time.Time   `db:"cpc_expiry_date" json:"cpc_expiry_date,omitempty"`
	Status            DriverStatus `db:"status" json:"status"`
	LedgerVersion     int64        `db:"ledger_version" json:"ledger_version"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// DriverFilter constrains driver listings.
type DriverFilter struct {
	Status   *DriverStatus
	Search   string
	Page     int
	PageSize int
}

// CreateDriverInput onboards a driver.
type CreateDriverInput struct {
	FullName          string     `validate:"required,max=200"`
	LicenseNumber     string     `validate:"required,max=64"`
	LicenseExpiryDate *time.Time `validate:"omitempty"`
	CPCExpiryDate     *time.Time `validate:"omitempty"`
}
