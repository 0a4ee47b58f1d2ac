package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

const infringementTypeColumns = `id, organization_id, code, name, severity, default_points, default_fine_amount,
       statutory_limit_days, active, created_at, updated_at`

const infringementColumns = `id, organization_id, driver_id, vehicle_id, infringement_type_id, incident_date, issue_date,
       severity, penalty_points, fine_amount, fine_reduction_amount, status, due_date, payment_date, points_entry_id,
       source_ref, notes, version, created_at, updated_at`

// Unique constraints surfaced as duplicate errors.
const (
	InfringementTypeCodeConstraint = "infringement_types_organization_id_code_key"
	InfringementSourceRefIndex     = "uq_infringements_source_ref"
)

// InfringementTransition describes a version-guarded infringement status change.
type InfringementTransition struct {
	OrganizationID  string
	ID              string
	From            []models.InfringementStatus
	To              models.InfringementStatus
	ExpectedVersion int64
	IssueDate       *time.Time
	DueDate         *time.Time
	PaymentDate     *time.Time
	PointsEntryID   *string
	FineReduction   *decimal.Decimal
}

// InfringementRepository persists the infringement catalog and lifecycle.
type InfringementRepository struct {
	db *sqlx.DB
}

// NewInfringementRepository constructs the repository.
func NewInfringementRepository(db *sqlx.DB) *InfringementRepository {
	return &InfringementRepository{db: db}
}

// CreateType inserts a catalog entry.
func (r *InfringementRepository) CreateType(ctx context.Context, t *models.InfringementType) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	const query = `INSERT INTO infringement_types
	(id, organization_id, code, name, severity, default_points, default_fine_amount, statutory_limit_days, active, created_at, updated_at)
	VALUES (:id, :organization_id, :code, :name, :severity, :default_points, :default_fine_amount, :statutory_limit_days, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("create infringement type: %w", err)
	}
	return nil
}

// GetType fetches a catalog entry by id.
func (r *InfringementRepository) GetType(ctx context.Context, organizationID, id string) (*models.InfringementType, error) {
	query := `SELECT ` + infringementTypeColumns + ` FROM infringement_types WHERE organization_id = $1 AND id = $2`
	var t models.InfringementType
	if err := r.db.GetContext(ctx, &t, query, organizationID, id); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTypes returns the organization catalog ordered by code.
func (r *InfringementRepository) ListTypes(ctx context.Context, organizationID string, activeOnly bool) ([]models.InfringementType, error) {
	query := `SELECT ` + infringementTypeColumns + ` FROM infringement_types WHERE organization_id = $1`
	if activeOnly {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY code ASC`
	var types []models.InfringementType
	if err := r.db.SelectContext(ctx, &types, query, organizationID); err != nil {
		return nil, fmt.Errorf("list infringement types: %w", err)
	}
	return types, nil
}

// Create inserts a new infringement.
func (r *InfringementRepository) Create(ctx context.Context, inf *models.Infringement) error {
	if inf.ID == "" {
		inf.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inf.CreatedAt = now
	inf.UpdatedAt = now
	if inf.Version == 0 {
		inf.Version = 1
	}
	const query = `INSERT INTO infringements
	(id, organization_id, driver_id, vehicle_id, infringement_type_id, incident_date, issue_date, severity, penalty_points,
	 fine_amount, fine_reduction_amount, status, due_date, payment_date, points_entry_id, source_ref, notes, version, created_at, updated_at)
	VALUES (:id, :organization_id, :driver_id, :vehicle_id, :infringement_type_id, :incident_date, :issue_date, :severity, :penalty_points,
	 :fine_amount, :fine_reduction_amount, :status, :due_date, :payment_date, :points_entry_id, :source_ref, :notes, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, inf); err != nil {
		return fmt.Errorf("create infringement: %w", err)
	}
	return nil
}

// GetByID fetches one infringement.
func (r *InfringementRepository) GetByID(ctx context.Context, organizationID, id string) (*models.Infringement, error) {
	query := `SELECT ` + infringementColumns + ` FROM infringements WHERE organization_id = $1 AND id = $2`
	var inf models.Infringement
	if err := r.db.GetContext(ctx, &inf, query, organizationID, id); err != nil {
		return nil, err
	}
	return &inf, nil
}

// List returns infringements matching the filter, newest incident first, with the total count.
func (r *InfringementRepository) List(ctx context.Context, organizationID string, filter models.InfringementFilter) ([]models.Infringement, int, error) {
	conditions := []string{"organization_id = $1"}
	args := []interface{}{organizationID}
	if filter.DriverID != "" {
		args = append(args, filter.DriverID)
		conditions = append(conditions, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.From != nil {
		args = append(args, models.DateOf(*filter.From))
		conditions = append(conditions, fmt.Sprintf("incident_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, models.DateOf(*filter.To))
		conditions = append(conditions, fmt.Sprintf("incident_date <= $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM infringements"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count infringements: %w", err)
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s FROM infringements%s ORDER BY incident_date DESC, id ASC LIMIT %d OFFSET %d",
		infringementColumns, where, size, (page-1)*size)
	var list []models.Infringement
	if err := r.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list infringements: %w", err)
	}
	return list, total, nil
}

// Transition applies a guarded status change.
func (r *InfringementRepository) Transition(ctx context.Context, t InfringementTransition) error {
	return transitionInfringement(ctx, r.db, t)
}

// ResolveWithLedger posts the penalty entry (when given) and applies the transition in one
// transaction. Both the ledger version and the infringement version must still match.
func (r *InfringementRepository) ResolveWithLedger(ctx context.Context, t InfringementTransition, entry *models.LedgerEntry, expectedLedgerVersion int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if entry != nil {
			if err := appendLedgerEntries(ctx, tx, expectedLedgerVersion, entry); err != nil {
				return err
			}
		}
		return transitionInfringement(ctx, tx, t)
	})
}

// OpenAt returns the driver's infringements that were in force on asOf: issued by then,
// not yet past their due date, and either still open or closed only after asOf.
// Terminal rows are not updated again, so updated_at dates their resolution.
func (r *InfringementRepository) OpenAt(ctx context.Context, organizationID, driverID string, asOf time.Time) ([]models.Infringement, error) {
	query := `SELECT ` + infringementColumns + ` FROM infringements
	WHERE organization_id = $1 AND driver_id = $2
	  AND issue_date IS NOT NULL AND issue_date <= $3
	  AND (due_date IS NULL OR due_date >= $3)
	  AND (status IN ('active', 'disputed', 'expired')
	       OR (status = 'resolved' AND COALESCE(payment_date, updated_at::date) > $3))
	ORDER BY incident_date, id`
	var list []models.Infringement
	if err := r.db.SelectContext(ctx, &list, query, organizationID, driverID, models.DateOf(asOf)); err != nil {
		return nil, fmt.Errorf("list infringements open at date: %w", err)
	}
	return list, nil
}

// ExpiryCandidates lists active or disputed infringements past their due date at asOf.
func (r *InfringementRepository) ExpiryCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.ExpiryCandidate, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `SELECT id, organization_id, driver_id FROM infringements
	WHERE status IN ('active', 'disputed') AND due_date IS NOT NULL AND due_date < $1
	ORDER BY due_date, id LIMIT $2`
	var candidates []models.ExpiryCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, models.DateOf(asOf), limit); err != nil {
		return nil, fmt.Errorf("list expiring infringements: %w", err)
	}
	return candidates, nil
}

// Expire moves one overdue infringement to expired and lapses its open appeal.
// It reports false when the infringement had already left active/disputed.
func (r *InfringementRepository) Expire(ctx context.Context, candidate models.ExpiryCandidate, asOf time.Time) (bool, error) {
	expired := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const mark = `UPDATE infringements SET status = 'expired', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND status IN ('active', 'disputed') AND due_date < $3`
		result, err := tx.ExecContext(ctx, mark, candidate.ID, candidate.OrganizationID, models.DateOf(asOf))
		if err != nil {
			return fmt.Errorf("mark infringement expired: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check expiry rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		const lapse = `UPDATE appeals SET status = 'withdrawn', outcome = 'lapsed: infringement expired', updated_at = NOW()
		WHERE infringement_id = $1 AND organization_id = $2 AND status IN ('pending', 'under_review')`
		if _, err := tx.ExecContext(ctx, lapse, candidate.ID, candidate.OrganizationID); err != nil {
			return fmt.Errorf("lapse open appeals: %w", err)
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

func transitionInfringement(ctx context.Context, exec sqlx.ExecerContext, t InfringementTransition) error {
	args := []interface{}{t.To}
	sets := []string{"status = $1", "version = version + 1", "updated_at = NOW()"}
	optional := []struct {
		column string
		value  interface{}
		set    bool
	}{
		{"issue_date", t.IssueDate, t.IssueDate != nil},
		{"due_date", t.DueDate, t.DueDate != nil},
		{"payment_date", t.PaymentDate, t.PaymentDate != nil},
		{"points_entry_id", t.PointsEntryID, t.PointsEntryID != nil},
		{"fine_reduction_amount", t.FineReduction, t.FineReduction != nil},
	}
	for _, o := range optional {
		if !o.set {
			continue
		}
		args = append(args, o.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", o.column, len(args)))
	}

	args = append(args, t.ID, t.OrganizationID, t.ExpectedVersion)
	idPos := len(args) - 2
	where := fmt.Sprintf("id = $%d AND organization_id = $%d AND version = $%d", idPos, idPos+1, idPos+2)
	if len(t.From) > 0 {
		placeholders := make([]string, len(t.From))
		for i, status := range t.From {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where += fmt.Sprintf(" AND status IN (%s)", strings.Join(placeholders, ","))
	}

	query := fmt.Sprintf("UPDATE infringements SET %s WHERE %s", strings.Join(sets, ", "), where)
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition infringement: %w", err)
	}
	return expectOne(result, "infringement transition")
}
