package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	resourceID := "inf-1"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs(sqlmock.AnyArg(), "org-1", nil, models.AuditActionInfringementIssue, "infringement", &resourceID,
			nil, `{"status":"active"}`, "10.0.0.1", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.AuditLog{
		OrganizationID: "org-1",
		Action:         models.AuditActionInfringementIssue,
		Resource:       "infringement",
		ResourceID:     &resourceID,
		NewValues:      []byte(`{"status":"active"}`),
		IPAddress:      "10.0.0.1",
	}
	require.NoError(t, repo.Create(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListByResourceCapsLimit(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	columns := []string{"id", "organization_id", "user_id", "action", "resource", "resource_id", "old_raw", "new_raw", "ip_address", "user_agent", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE organization_id = $1")).
		WithArgs("org-1", "driver", "drv-1", 50).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a-2", "org-1", "u-1", models.AuditActionDriverStatus, "driver", "drv-1", []byte(`{"status":"active"}`), []byte(`{"status":"inactive"}`), "", "", time.Now()).
			AddRow("a-1", "org-1", "u-1", models.AuditActionDriverCreate, "driver", "drv-1", nil, []byte(`{"status":"active"}`), "", "", time.Now().Add(-time.Hour)))

	logs, err := repo.ListByResource(context.Background(), "org-1", "driver", "drv-1", 1000)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.AuditActionDriverStatus, logs[0].Action)
	assert.JSONEq(t, `{"status":"inactive"}`, string(logs[0].NewValues))
	assert.Nil(t, logs[1].OldValues)
	require.NoError(t, mock.ExpectationsWereMet())
}
