package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

const dailyRestColumns = `id, organization_id, driver_id, rest_date, start_time, end_time, duration_hours, rest_type,
       created_at, updated_at`

const weeklyRestColumns = `id, organization_id, driver_id, week_start_date, week_end_date, rest_start_time, rest_end_time,
       block_hours, total_rest_hours, rest_type, compensation_required, compensation_deadline, compensation_date,
       compensation_hours, evaluated_at, version, created_at, updated_at`

// DailyRestUniqueConstraint guards one daily rest per driver and day.
const DailyRestUniqueConstraint = "daily_rests_organization_id_driver_id_rest_date_key"

// RestRepository persists daily and weekly rest bookkeeping.
type RestRepository struct {
	db *sqlx.DB
}

// NewRestRepository constructs the repository.
func NewRestRepository(db *sqlx.DB) *RestRepository {
	return &RestRepository{db: db}
}

// CreateDaily inserts a daily rest; a second record for the same day violates the unique key.
func (r *RestRepository) CreateDaily(ctx context.Context, rest *models.DailyRest) error {
	if rest.ID == "" {
		rest.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rest.CreatedAt = now
	rest.UpdatedAt = now
	const query = `INSERT INTO daily_rests
	(id, organization_id, driver_id, rest_date, start_time, end_time, duration_hours, rest_type, created_at, updated_at)
	VALUES (:id, :organization_id, :driver_id, :rest_date, :start_time, :end_time, :duration_hours, :rest_type, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rest); err != nil {
		return fmt.Errorf("create daily rest: %w", err)
	}
	return nil
}

// ReplaceDaily upserts the daily rest of the day, keeping the original row id.
func (r *RestRepository) ReplaceDaily(ctx context.Context, rest *models.DailyRest) error {
	if rest.ID == "" {
		rest.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rest.CreatedAt = now
	rest.UpdatedAt = now
	const query = `INSERT INTO daily_rests
	(id, organization_id, driver_id, rest_date, start_time, end_time, duration_hours, rest_type, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (organization_id, driver_id, rest_date) DO UPDATE SET
	    start_time = EXCLUDED.start_time,
	    end_time = EXCLUDED.end_time,
	    duration_hours = EXCLUDED.duration_hours,
	    rest_type = EXCLUDED.rest_type,
	    updated_at = EXCLUDED.updated_at
	RETURNING id, created_at`
	row := r.db.QueryRowxContext(ctx, query, rest.ID, rest.OrganizationID, rest.DriverID, rest.RestDate,
		rest.StartTime, rest.EndTime, rest.DurationHours, rest.RestType, rest.CreatedAt, rest.UpdatedAt)
	if err := row.Scan(&rest.ID, &rest.CreatedAt); err != nil {
		return fmt.Errorf("replace daily rest: %w", err)
	}
	return nil
}

// ListDaily returns daily rests within [from, to] ordered by date.
func (r *RestRepository) ListDaily(ctx context.Context, organizationID string, filter models.RestPeriodFilter) ([]models.DailyRest, error) {
	query := `SELECT ` + dailyRestColumns + ` FROM daily_rests
	WHERE organization_id = $1 AND driver_id = $2 AND rest_date BETWEEN $3 AND $4
	ORDER BY rest_date ASC`
	var rests []models.DailyRest
	if err := r.db.SelectContext(ctx, &rests, query, organizationID, filter.DriverID,
		models.DateOf(filter.From), models.DateOf(filter.To)); err != nil {
		return nil, fmt.Errorf("list daily rests: %w", err)
	}
	return rests, nil
}

// GetWeekly fetches the bookkeeping row of a driver week.
func (r *RestRepository) GetWeekly(ctx context.Context, organizationID, driverID string, weekStart time.Time) (*models.WeeklyRest, error) {
	query := `SELECT ` + weeklyRestColumns + ` FROM weekly_rests
	WHERE organization_id = $1 AND driver_id = $2 AND week_start_date = $3`
	var weekly models.WeeklyRest
	if err := r.db.GetContext(ctx, &weekly, query, organizationID, driverID, models.DateOf(weekStart)); err != nil {
		return nil, err
	}
	return &weekly, nil
}

// CreateWeekly inserts the first bookkeeping row of a week.
func (r *RestRepository) CreateWeekly(ctx context.Context, weekly *models.WeeklyRest) error {
	if weekly.ID == "" {
		weekly.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	weekly.CreatedAt = now
	weekly.UpdatedAt = now
	weekly.Version = 1
	const query = `INSERT INTO weekly_rests
	(id, organization_id, driver_id, week_start_date, week_end_date, rest_start_time, rest_end_time, block_hours,
	 total_rest_hours, rest_type, compensation_required, compensation_deadline, compensation_date, compensation_hours,
	 evaluated_at, version, created_at, updated_at)
	VALUES (:id, :organization_id, :driver_id, :week_start_date, :week_end_date, :rest_start_time, :rest_end_time, :block_hours,
	 :total_rest_hours, :rest_type, :compensation_required, :compensation_deadline, :compensation_date, :compensation_hours,
	 :evaluated_at, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, weekly); err != nil {
		return fmt.Errorf("create weekly rest: %w", err)
	}
	return nil
}

// UpdateWeekly rewrites the mutable bookkeeping of a week guarded by its version.
// On success weekly.Version carries the new version.
func (r *RestRepository) UpdateWeekly(ctx context.Context, weekly *models.WeeklyRest, expectedVersion int64) error {
	weekly.UpdatedAt = time.Now().UTC()
	const query = `UPDATE weekly_rests SET
	    rest_start_time = :rest_start_time,
	    rest_end_time = :rest_end_time,
	    block_hours = :block_hours,
	    total_rest_hours = :total_rest_hours,
	    rest_type = :rest_type,
	    compensation_required = :compensation_required,
	    compensation_deadline = :compensation_deadline,
	    compensation_date = :compensation_date,
	    compensation_hours = :compensation_hours,
	    evaluated_at = :evaluated_at,
	    version = version + 1,
	    updated_at = :updated_at
	WHERE id = :id AND organization_id = :organization_id AND version = :expected_version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                    weekly.ID,
		"organization_id":       weekly.OrganizationID,
		"rest_start_time":       weekly.RestStartTime,
		"rest_end_time":         weekly.RestEndTime,
		"block_hours":           weekly.BlockHours,
		"total_rest_hours":      weekly.TotalRestHours,
		"rest_type":             weekly.RestType,
		"compensation_required": weekly.CompensationRequired,
		"compensation_deadline": weekly.CompensationDeadline,
		"compensation_date":     weekly.CompensationDate,
		"compensation_hours":    weekly.CompensationHours,
		"evaluated_at":          weekly.EvaluatedAt,
		"updated_at":            weekly.UpdatedAt,
		"expected_version":      expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("update weekly rest: %w", err)
	}
	if err := expectOne(result, "weekly rest"); err != nil {
		return err
	}
	weekly.Version = expectedVersion + 1
	return nil
}

// ListWeekly returns weeks starting within [from, to].
func (r *RestRepository) ListWeekly(ctx context.Context, organizationID string, filter models.RestPeriodFilter) ([]models.WeeklyRest, error) {
	query := `SELECT ` + weeklyRestColumns + ` FROM weekly_rests
	WHERE organization_id = $1 AND driver_id = $2 AND week_start_date BETWEEN $3 AND $4
	ORDER BY week_start_date ASC`
	var weeks []models.WeeklyRest
	if err := r.db.SelectContext(ctx, &weeks, query, organizationID, filter.DriverID,
		models.DateOf(filter.From), models.DateOf(filter.To)); err != nil {
		return nil, fmt.Errorf("list weekly rests: %w", err)
	}
	return weeks, nil
}

// ListOverdueCompensations returns weeks of active drivers whose compensation deadline
// fell within [from, asOf) without a recorded compensation, across organizations.
func (r *RestRepository) ListOverdueCompensations(ctx context.Context, from, asOf time.Time) ([]models.WeeklyRest, error) {
	const query = `SELECT w.id, w.organization_id, w.driver_id, w.week_start_date, w.week_end_date, w.rest_start_time,
	       w.rest_end_time, w.block_hours, w.total_rest_hours, w.rest_type, w.compensation_required,
	       w.compensation_deadline, w.compensation_date, w.compensation_hours, w.evaluated_at, w.version,
	       w.created_at, w.updated_at
	FROM weekly_rests w
	JOIN drivers d ON d.id = w.driver_id AND d.organization_id = w.organization_id
	WHERE d.status = 'active' AND w.compensation_required AND w.compensation_date IS NULL
	  AND w.compensation_deadline >= $1 AND w.compensation_deadline < $2
	ORDER BY w.compensation_deadline, w.id`
	var weeks []models.WeeklyRest
	if err := r.db.SelectContext(ctx, &weeks, query, models.DateOf(from), models.DateOf(asOf)); err != nil {
		return nil, fmt.Errorf("list overdue compensations: %w", err)
	}
	return weeks, nil
}
