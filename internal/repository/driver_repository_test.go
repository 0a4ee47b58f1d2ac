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

var driverRowColumns = []string{"id", "organization_id", "full_name", "license_number", "license_expiry_date",
	"cpc_expiry_date", "status", "ledger_version", "created_at", "updated_at"}

func TestDriverRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDriverRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO drivers")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	driver := &models.Driver{OrganizationID: "org-1", FullName: "Ana Silva", LicenseNumber: "L-100"}
	require.NoError(t, repo.Create(context.Background(), driver))
	assert.Equal(t, models.DriverStatusActive, driver.Status)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, organization_id, full_name")).
		WithArgs("org-1", driver.ID).
		WillReturnRows(sqlmock.NewRows(driverRowColumns).
			AddRow(driver.ID, "org-1", "Ana Silva", "L-100", nil, nil, "active", 0, time.Now(), time.Now()))

	found, err := repo.GetByID(context.Background(), "org-1", driver.ID)
	require.NoError(t, err)
	assert.Equal(t, "L-100", found.LicenseNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDriverRepository(db)
	status := models.DriverStatusActive
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM drivers")).
		WithArgs("org-1", "active", "%silva%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY full_name ASC, id ASC LIMIT 10 OFFSET 10")).
		WithArgs("org-1", "active", "%silva%").
		WillReturnRows(sqlmock.NewRows(driverRowColumns).
			AddRow("drv-1", "org-1", "Ana Silva", "L-100", nil, nil, "active", 2, time.Now(), time.Now()))

	drivers, total, err := repo.List(context.Background(), "org-1", models.DriverFilter{Status: &status, Search: "Silva", Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, drivers, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverRepositoryUpdateStatusRequiresCurrentState(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewDriverRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE drivers SET status = $1")).
		WithArgs("inactive", "org-1", "drv-1", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "org-1", "drv-1", models.DriverStatusActive, models.DriverStatusInactive)
	require.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}
