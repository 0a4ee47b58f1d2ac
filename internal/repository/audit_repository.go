package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

// AuditRepository writes the audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an audit record.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs
	(id, organization_id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query, log.ID, log.OrganizationID, log.UserID, log.Action, log.Resource, log.ResourceID,
		jsonText(log.OldValues), jsonText(log.NewValues), log.IPAddress, log.UserAgent, log.CreatedAt); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// auditRow scans nullable jsonb columns, which json.RawMessage cannot receive directly.
type auditRow struct {
	models.AuditLog
	OldRaw []byte `db:"old_raw"`
	NewRaw []byte `db:"new_raw"`
}

// ListByResource returns the trail of one resource, newest first.
func (r *AuditRepository) ListByResource(ctx context.Context, organizationID, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, organization_id, user_id, action, resource, resource_id,
	old_values AS old_raw, new_values AS new_raw, ip_address, user_agent, created_at
	FROM audit_logs WHERE organization_id = $1 AND resource = $2 AND resource_id = $3
	ORDER BY created_at DESC LIMIT $4`
	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, organizationID, resource, resourceID, limit); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	logs := make([]models.AuditLog, len(rows))
	for i, row := range rows {
		logs[i] = row.AuditLog
		logs[i].OldValues = row.OldRaw
		logs[i].NewValues = row.NewRaw
	}
	return logs, nil
}

// jsonText passes JSON payloads as text so PostgreSQL casts them to jsonb.
func jsonText(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
