package models

import (
	"encoding/json"
	"time"
)

// Audit actions recorded for state changes.
const (
	AuditActionDriverCreate        = "DRIVER_CREATE"
	AuditActionDriverStatus        = "DRIVER_STATUS_CHANGE"
	AuditActionPointsPost          = "POINTS_POST"
	AuditActionPointsReverse       = "POINTS_REVERSE"
	AuditActionDailyRestRecord     = "DAILY_REST_RECORD"
	AuditActionWeeklyRestRecord    = "WEEKLY_REST_RECORD"
	AuditActionCompensationRecord  = "COMPENSATION_RECORD"
	AuditActionInfringementTypeAdd = "INFRINGEMENT_TYPE_CREATE"
	AuditActionInfringementCreate  = "INFRINGEMENT_CREATE"
	AuditActionInfringementIssue   = "INFRINGEMENT_ISSUE"
	AuditActionInfringementResolve = "INFRINGEMENT_RESOLVE"
	AuditActionAppealFile          = "APPEAL_FILE"
	AuditActionAppealReview        = "APPEAL_REVIEW"
	AuditActionAppealDecide        = "APPEAL_DECIDE"
	AuditActionAppealWithdraw      = "APPEAL_WITHDRAW"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID             string          `db:"id" json:"id"`
	OrganizationID string          `db:"organization_id" json:"organization_id"`
	UserID         *string         `db:"user_id" json:"user_id,omitempty"`
	Action         string          `db:"action" json:"action"`
	Resource       string          `db:"resource" json:"resource"`
	ResourceID     *string         `db:"resource_id" json:"resource_id,omitempty"`
	OldValues      json.RawMessage `db:"old_values" json:"old_values,omitempty"`
	NewValues      json.RawMessage `db:"new_values" json:"new_values,omitempty"`
	IPAddress      string          `db:"ip_address" json:"ip_address"`
	UserAgent      string          `db:"user_agent" json:"user_agent"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
