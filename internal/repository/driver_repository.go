package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

const driverColumns = `id, organization_id, full_name, license_number, license_expiry_date, cpc_expiry_date,
       status, ledger_version, created_at, updated_at`

// DriverLicenseConstraint keeps licence numbers unique per organization.
const DriverLicenseConstraint = "drivers_organization_id_license_number_key"

// DriverRepository persists drivers.
type DriverRepository struct {
	db *sqlx.DB
}

// NewDriverRepository constructs the repository.
func NewDriverRepository(db *sqlx.DB) *DriverRepository {
	return &DriverRepository{db: db}
}

// Create inserts a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *models.Driver) error {
	if driver.ID == "" {
		driver.ID = uuid.NewString()
	}
	if driver.Status == "" {
		driver.Status = models.DriverStatusActive
	}
	now := time.Now().UTC()
	driver.CreatedAt = now
	driver.UpdatedAt = now
	const query = `INSERT INTO drivers
	(id, organization_id, full_name, license_number, license_expiry_date, cpc_expiry_date, status, ledger_version, created_at, updated_at)
	VALUES (:id, :organization_id, :full_name, :license_number, :license_expiry_date, :cpc_expiry_date, :status, :ledger_version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, driver); err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	return nil
}

// GetByID fetches a driver of the organization.
func (r *DriverRepository) GetByID(ctx context.Context, organizationID, id string) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE organization_id = $1 AND id = $2`
	var driver models.Driver
	if err := r.db.GetContext(ctx, &driver, query, organizationID, id); err != nil {
		return nil, err
	}
	return &driver, nil
}

// List returns drivers of the organization with the total count.
func (r *DriverRepository) List(ctx context.Context, organizationID string, filter models.DriverFilter) ([]models.Driver, int, error) {
	conditions := []string{"organization_id = $1"}
	args := []interface{}{organizationID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+strings.ToLower(s)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(license_number) LIKE $%d)", len(args), len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM drivers"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count drivers: %w", err)
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s FROM drivers%s ORDER BY full_name ASC, id ASC LIMIT %d OFFSET %d",
		driverColumns, where, size, (page-1)*size)
	var drivers []models.Driver
	if err := r.db.SelectContext(ctx, &drivers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list drivers: %w", err)
	}
	return drivers, total, nil
}

// ListActive returns every active driver of the organization.
func (r *DriverRepository) ListActive(ctx context.Context, organizationID string) ([]models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE organization_id = $1 AND status = 'active' ORDER BY full_name ASC, id ASC`
	var drivers []models.Driver
	if err := r.db.SelectContext(ctx, &drivers, query, organizationID); err != nil {
		return nil, fmt.Errorf("list active drivers: %w", err)
	}
	return drivers, nil
}

// ListActiveRefs returns every active driver across organizations for batch jobs.
func (r *DriverRepository) ListActiveRefs(ctx context.Context) ([]models.DriverRef, error) {
	const query = `SELECT id, organization_id FROM drivers WHERE status = 'active' ORDER BY organization_id, id`
	var refs []models.DriverRef
	if err := r.db.SelectContext(ctx, &refs, query); err != nil {
		return nil, fmt.Errorf("list active driver refs: %w", err)
	}
	return refs, nil
}

// UpdateStatus moves a driver between lifecycle states. The current status must equal from.
func (r *DriverRepository) UpdateStatus(ctx context.Context, organizationID, id string, from, to models.DriverStatus) error {
	const query = `UPDATE drivers SET status = $1, updated_at = NOW()
	WHERE organization_id = $2 AND id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, to, organizationID, id, from)
	if err != nil {
		return fmt.Errorf("update driver status: %w", err)
	}
	return expectOne(result, "driver status")
}
