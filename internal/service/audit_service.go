package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type auditReader interface {
	ListByResource(ctx context.Context, organizationID, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// auditResources lists the resource names written by emitAudit.
var auditResources = map[string]struct{}{
	"driver":              {},
	"points_ledger_entry": {},
	"daily_rest":          {},
	"weekly_rest":         {},
	"infringement_type":   {},
	"infringement":        {},
	"appeal":              {},
}

// AuditService reads the audit trail of a single resource.
type AuditService struct {
	repo auditReader
}

// NewAuditService constructs the service.
func NewAuditService(repo auditReader) *AuditService {
	return &AuditService{repo: repo}
}

// Trail returns the newest audit records of the resource within the caller's organization.
func (s *AuditService) Trail(ctx context.Context, scope models.Scope, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if _, ok := auditResources[resource]; !ok {
		return nil, invalid(fmt.Sprintf("unknown audit resource %q", resource))
	}
	if resourceID == "" {
		return nil, invalid("resource id is required")
	}
	logs, err := s.repo.ListByResource(ctx, scope.OrganizationID, resource, resourceID, limit)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to load audit trail")
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}
