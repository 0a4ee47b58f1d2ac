package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

const ledgerColumns = `id, organization_id, driver_id, points_added, points_removed, balance_before, balance_after,
       reason, effective_date, expiry_date, infringement_id, reverses_entry_id, status, created_by, created_at`

const insertLedgerEntry = `INSERT INTO points_ledger_entries
	(id, organization_id, driver_id, points_added, points_removed, balance_before, balance_after, reason,
	 effective_date, expiry_date, infringement_id, reverses_entry_id, status, created_by, created_at)
	VALUES (:id, :organization_id, :driver_id, :points_added, :points_removed, :balance_before, :balance_after, :reason,
	 :effective_date, :expiry_date, :infringement_id, :reverses_entry_id, :status, :created_by, :created_at)`

// LedgerRepository persists the append-only points ledger.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// State reads the driver's ledger version, chain tail, effective balance and the
// latest expiry of the point additions in force at asOf.
func (r *LedgerRepository) State(ctx context.Context, organizationID, driverID string, asOf time.Time) (*models.LedgerState, error) {
	const query = `SELECT d.id AS driver_id, d.ledger_version,
       COALESCE((SELECT e.balance_after FROM points_ledger_entries e
                 WHERE e.driver_id = d.id ORDER BY e.effective_date DESC, e.id DESC LIMIT 1), 0) AS chain_balance,
       (SELECT MAX(e.effective_date) FROM points_ledger_entries e WHERE e.driver_id = d.id) AS last_effective_date,
       COALESCE((SELECT SUM(e.points_added - e.points_removed) FROM points_ledger_entries e
                 WHERE e.driver_id = d.id AND e.status = 'active' AND e.effective_date <= $3
                   AND (e.expiry_date IS NULL OR e.expiry_date > $3)), 0) AS effective_balance,
       (SELECT MAX(e.expiry_date) FROM points_ledger_entries e
        WHERE e.driver_id = d.id AND e.status = 'active' AND e.points_added > 0 AND e.effective_date <= $3
          AND (e.expiry_date IS NULL OR e.expiry_date > $3)) AS penalty_expiry
	FROM drivers d WHERE d.organization_id = $1 AND d.id = $2`
	var state models.LedgerState
	if err := r.db.GetContext(ctx, &state, query, organizationID, driverID, models.DateOf(asOf)); err != nil {
		return nil, err
	}
	return &state, nil
}

// Append writes one entry guarded by the expected ledger version.
func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry, expectedVersion int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return appendLedgerEntries(ctx, tx, expectedVersion, entry)
	})
}

// Reverse marks original reversed and appends its offsetting entry atomically.
func (r *LedgerRepository) Reverse(ctx context.Context, original *models.LedgerEntry, offset *models.LedgerEntry, expectedVersion int64) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const query = `UPDATE points_ledger_entries SET status = 'reversed'
		WHERE organization_id = $1 AND id = $2 AND status = 'active'`
		result, err := tx.ExecContext(ctx, query, original.OrganizationID, original.ID)
		if err != nil {
			return fmt.Errorf("mark entry reversed: %w", err)
		}
		if err := expectOne(result, "entry reversal"); err != nil {
			return err
		}
		return appendLedgerEntries(ctx, tx, expectedVersion, offset)
	})
}

// GetByID fetches one entry.
func (r *LedgerRepository) GetByID(ctx context.Context, organizationID, id string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM points_ledger_entries WHERE organization_id = $1 AND id = $2`
	var entry models.LedgerEntry
	if err := r.db.GetContext(ctx, &entry, query, organizationID, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns a driver's entries in chain order with the total count.
func (r *LedgerRepository) List(ctx context.Context, organizationID string, filter models.LedgerFilter) ([]models.LedgerEntry, int, error) {
	conditions := []string{"organization_id = $1", "driver_id = $2"}
	args := []interface{}{organizationID, filter.DriverID}
	if filter.From != nil {
		args = append(args, models.DateOf(*filter.From))
		conditions = append(conditions, fmt.Sprintf("effective_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, models.DateOf(*filter.To))
		conditions = append(conditions, fmt.Sprintf("effective_date <= $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM points_ledger_entries"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s FROM points_ledger_entries%s ORDER BY effective_date ASC, id ASC LIMIT %d OFFSET %d",
		ledgerColumns, where, size, (page-1)*size)
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, total, nil
}

// ExpiryCandidates lists active entries whose expiry date has passed at asOf.
func (r *LedgerRepository) ExpiryCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.ExpiryCandidate, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `SELECT id, organization_id, driver_id FROM points_ledger_entries
	WHERE status = 'active' AND expiry_date IS NOT NULL AND expiry_date <= $1
	ORDER BY driver_id, effective_date, id LIMIT $2`
	var candidates []models.ExpiryCandidate
	if err := r.db.SelectContext(ctx, &candidates, query, models.DateOf(asOf), limit); err != nil {
		return nil, fmt.Errorf("list expiring entries: %w", err)
	}
	return candidates, nil
}

// Expire marks one entry expired and bumps the driver's ledger version.
// It reports false when the entry was no longer active.
func (r *LedgerRepository) Expire(ctx context.Context, candidate models.ExpiryCandidate, asOf time.Time) (bool, error) {
	expired := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const mark = `UPDATE points_ledger_entries SET status = 'expired'
		WHERE id = $1 AND organization_id = $2 AND status = 'active' AND expiry_date <= $3`
		result, err := tx.ExecContext(ctx, mark, candidate.ID, candidate.OrganizationID, models.DateOf(asOf))
		if err != nil {
			return fmt.Errorf("mark entry expired: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check expiry rows: %w", err)
		}
		if rows == 0 {
			return nil
		}
		const bump = `UPDATE drivers SET ledger_version = ledger_version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2`
		if _, err := tx.ExecContext(ctx, bump, candidate.DriverID, candidate.OrganizationID); err != nil {
			return fmt.Errorf("bump ledger version: %w", err)
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

// appendLedgerEntries bumps the driver's ledger version once per entry, starting from
// expectedVersion, and inserts the entries in order.
func appendLedgerEntries(ctx context.Context, tx *sqlx.Tx, expectedVersion int64, entries ...*models.LedgerEntry) error {
	const bump = `UPDATE drivers SET ledger_version = ledger_version + 1, updated_at = NOW()
	WHERE id = $1 AND organization_id = $2 AND ledger_version = $3`
	version := expectedVersion
	for _, entry := range entries {
		result, err := tx.ExecContext(ctx, bump, entry.DriverID, entry.OrganizationID, version)
		if err != nil {
			return fmt.Errorf("bump ledger version: %w", err)
		}
		if err := expectOne(result, "ledger version"); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertLedgerEntry, entry); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		version++
	}
	return nil
}
