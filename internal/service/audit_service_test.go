package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type auditReaderStub struct {
	logs  []models.AuditLog
	err   error
	orgID string
	limit int
}

func (s *auditReaderStub) ListByResource(_ context.Context, organizationID, _, _ string, limit int) ([]models.AuditLog, error) {
	s.orgID = organizationID
	s.limit = limit
	return s.logs, s.err
}

func TestAuditServiceTrail(t *testing.T) {
	scope := models.Scope{OrganizationID: "org-1", ActorID: "u-1", Role: models.RoleComplianceOfficer}

	t.Run("scoped to organization", func(t *testing.T) {
		repo := &auditReaderStub{logs: []models.AuditLog{{ID: "a-1", Action: models.AuditActionAppealFile}}}
		logs, err := NewAuditService(repo).Trail(context.Background(), scope, "appeal", "ap-1", 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "org-1", repo.orgID)
		assert.Equal(t, 10, repo.limit)
	})

	t.Run("empty trail is not nil", func(t *testing.T) {
		logs, err := NewAuditService(&auditReaderStub{}).Trail(context.Background(), scope, "driver", "drv-1", 0)
		require.NoError(t, err)
		assert.NotNil(t, logs)
		assert.Empty(t, logs)
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := NewAuditService(&auditReaderStub{}).Trail(context.Background(), scope, "users", "u-1", 0)
		assert.ErrorIs(t, err, appErrors.ErrValidation)
	})

	t.Run("missing scope", func(t *testing.T) {
		_, err := NewAuditService(&auditReaderStub{}).Trail(context.Background(), models.Scope{}, "driver", "drv-1", 0)
		assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	})

	t.Run("store failure", func(t *testing.T) {
		_, err := NewAuditService(&auditReaderStub{err: errors.New("conn reset")}).Trail(context.Background(), scope, "driver", "drv-1", 0)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrStorageUnavailable.Code, appErrors.FromError(err).Code)
	})
}
