package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

const appealColumns = `id, organization_id, infringement_id, grounds, submitted_date, hearing_date, status, outcome,
       points_reduction, fine_reduction_amount, decided_by, decided_at, created_at, updated_at`

// OpenAppealIndex allows one pending or under-review appeal per infringement.
const OpenAppealIndex = "uq_appeals_open"

// AppealDecisionUpdate carries the ruling persisted on an open appeal.
type AppealDecisionUpdate struct {
	OrganizationID  string
	ID              string
	Status          models.AppealStatus
	Outcome         string
	PointsReduction int
	FineReduction   decimal.Decimal
	DecidedBy       string
	DecidedAt       time.Time
}

// AppealRepository persists appeals and their effect on infringements.
type AppealRepository struct {
	db *sqlx.DB
}

// NewAppealRepository constructs the repository.
func NewAppealRepository(db *sqlx.DB) *AppealRepository {
	return &AppealRepository{db: db}
}

// File inserts the appeal and disputes the infringement in one transaction.
func (r *AppealRepository) File(ctx context.Context, appeal *models.Appeal, t InfringementTransition) error {
	if appeal.ID == "" {
		appeal.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	appeal.CreatedAt = now
	appeal.UpdatedAt = now
	if appeal.Status == "" {
		appeal.Status = models.AppealStatusPending
	}
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insert = `INSERT INTO appeals
		(id, organization_id, infringement_id, grounds, submitted_date, hearing_date, status, outcome, points_reduction,
		 fine_reduction_amount, decided_by, decided_at, created_at, updated_at)
		VALUES (:id, :organization_id, :infringement_id, :grounds, :submitted_date, :hearing_date, :status, :outcome, :points_reduction,
		 :fine_reduction_amount, :decided_by, :decided_at, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, appeal); err != nil {
			return fmt.Errorf("create appeal: %w", err)
		}
		return transitionInfringement(ctx, tx, t)
	})
}

// GetByID fetches one appeal.
func (r *AppealRepository) GetByID(ctx context.Context, organizationID, id string) (*models.Appeal, error) {
	query := `SELECT ` + appealColumns + ` FROM appeals WHERE organization_id = $1 AND id = $2`
	var appeal models.Appeal
	if err := r.db.GetContext(ctx, &appeal, query, organizationID, id); err != nil {
		return nil, err
	}
	return &appeal, nil
}

// FindOpen returns the open appeal of an infringement.
func (r *AppealRepository) FindOpen(ctx context.Context, organizationID, infringementID string) (*models.Appeal, error) {
	query := `SELECT ` + appealColumns + ` FROM appeals
	WHERE organization_id = $1 AND infringement_id = $2 AND status IN ('pending', 'under_review')`
	var appeal models.Appeal
	if err := r.db.GetContext(ctx, &appeal, query, organizationID, infringementID); err != nil {
		return nil, err
	}
	return &appeal, nil
}

// ListByInfringement returns every appeal of an infringement, oldest first.
func (r *AppealRepository) ListByInfringement(ctx context.Context, organizationID, infringementID string) ([]models.Appeal, error) {
	query := `SELECT ` + appealColumns + ` FROM appeals
	WHERE organization_id = $1 AND infringement_id = $2 ORDER BY submitted_date ASC, created_at ASC`
	var appeals []models.Appeal
	if err := r.db.SelectContext(ctx, &appeals, query, organizationID, infringementID); err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	return appeals, nil
}

// StartReview moves a pending appeal under review.
func (r *AppealRepository) StartReview(ctx context.Context, organizationID, id string, hearingDate *time.Time) error {
	const query = `UPDATE appeals SET status = 'under_review', hearing_date = COALESCE($1, hearing_date), updated_at = NOW()
	WHERE organization_id = $2 AND id = $3 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, hearingDate, organizationID, id)
	if err != nil {
		return fmt.Errorf("start appeal review: %w", err)
	}
	return expectOne(result, "appeal review")
}

// Decide records the ruling, appends any ledger entries and applies the infringement
// transition in one transaction.
func (r *AppealRepository) Decide(ctx context.Context, decision AppealDecisionUpdate, t InfringementTransition, entries []*models.LedgerEntry, expectedLedgerVersion int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const query = `UPDATE appeals SET status = $1, outcome = $2, points_reduction = $3, fine_reduction_amount = $4,
		    decided_by = $5, decided_at = $6, updated_at = NOW()
		WHERE organization_id = $7 AND id = $8 AND status IN ('pending', 'under_review')`
		result, err := tx.ExecContext(ctx, query, decision.Status, decision.Outcome, decision.PointsReduction,
			decision.FineReduction, decision.DecidedBy, decision.DecidedAt, decision.OrganizationID, decision.ID)
		if err != nil {
			return fmt.Errorf("decide appeal: %w", err)
		}
		if err := expectOne(result, "appeal decision"); err != nil {
			return err
		}
		if len(entries) > 0 {
			if err := appendLedgerEntries(ctx, tx, expectedLedgerVersion, entries...); err != nil {
				return err
			}
		}
		return transitionInfringement(ctx, tx, t)
	})
}

// Withdraw closes an open appeal and returns the infringement to active.
func (r *AppealRepository) Withdraw(ctx context.Context, organizationID, id string, t InfringementTransition) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const query = `UPDATE appeals SET status = 'withdrawn', outcome = 'withdrawn by appellant', updated_at = NOW()
		WHERE organization_id = $1 AND id = $2 AND status IN ('pending', 'under_review')`
		result, err := tx.ExecContext(ctx, query, organizationID, id)
		if err != nil {
			return fmt.Errorf("withdraw appeal: %w", err)
		}
		if err := expectOne(result, "appeal withdrawal"); err != nil {
			return err
		}
		return transitionInfringement(ctx, tx, t)
	})
}
