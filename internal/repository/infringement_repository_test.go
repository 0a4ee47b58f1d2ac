package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

var infringementRowColumns = []string{"id", "organization_id", "driver_id", "vehicle_id", "infringement_type_id", "incident_date",
	"issue_date", "severity", "penalty_points", "fine_amount", "fine_reduction_amount", "status", "due_date", "payment_date",
	"points_entry_id", "source_ref", "notes", "version", "created_at", "updated_at"}

func TestInfringementRepositoryGetByIDScansDecimals(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInfringementRepository(db)
	incident := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, organization_id, driver_id, vehicle_id")).
		WithArgs("org-1", "inf-1").
		WillReturnRows(sqlmock.NewRows(infringementRowColumns).
			AddRow("inf-1", "org-1", "drv-1", nil, "type-1", incident, nil, "major", 3, "150.00", "25.50", "pending",
				nil, nil, nil, nil, "", 1, time.Now(), time.Now()))

	inf, err := repo.GetByID(context.Background(), "org-1", "inf-1")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMajor, inf.Severity)
	assert.True(t, inf.NetFine().Equal(decimal.RequireFromString("124.50")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInfringementRepositoryTransitionGuardsVersionAndStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInfringementRepository(db)
	issue := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	due := issue.AddDate(0, 0, 28)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE infringements SET status = $1, version = version + 1, updated_at = NOW(), issue_date = $2, due_date = $3 WHERE id = $4 AND organization_id = $5 AND version = $6 AND status IN ($7)")).
		WithArgs("active", issue, due, "inf-1", "org-1", int64(1), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), InfringementTransition{
		OrganizationID:  "org-1",
		ID:              "inf-1",
		From:            []models.InfringementStatus{models.InfringementStatusPending},
		To:              models.InfringementStatusActive,
		ExpectedVersion: 1,
		IssueDate:       &issue,
		DueDate:         &due,
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE infringements SET status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.Transition(context.Background(), InfringementTransition{
		OrganizationID: "org-1", ID: "inf-1", To: models.InfringementStatusResolved, ExpectedVersion: 1,
		From: []models.InfringementStatus{models.InfringementStatusActive},
	})
	require.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInfringementRepositoryResolveWithLedgerAppendsFirst(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInfringementRepository(db)
	entry := sampleEntry(4)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE drivers SET ledger_version")).
		WithArgs("drv-1", "org-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO points_ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE infringements SET status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ResolveWithLedger(context.Background(), InfringementTransition{
		OrganizationID: "org-1", ID: "inf-1", To: models.InfringementStatusResolved, ExpectedVersion: 2,
		From: []models.InfringementStatus{models.InfringementStatusActive}, PointsEntryID: &entry.ID,
	}, entry, 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInfringementRepositoryResolveRollsBackOnStaleInfringement(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInfringementRepository(db)
	entry := sampleEntry(4)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE drivers SET ledger_version")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO points_ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE infringements SET status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ResolveWithLedger(context.Background(), InfringementTransition{
		OrganizationID: "org-1", ID: "inf-1", To: models.InfringementStatusResolved, ExpectedVersion: 2,
	}, entry, 3)
	require.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInfringementRepositoryExpireLapsesOpenAppeals(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInfringementRepository(db)
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	candidate := models.ExpiryCandidate{ID: "inf-1", OrganizationID: "org-1", DriverID: "drv-1"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE infringements SET status = 'expired'")).
		WithArgs("inf-1", "org-1", asOf).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET status = 'withdrawn'")).
		WithArgs("inf-1", "org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expired, err := repo.Expire(context.Background(), candidate, asOf)
	require.NoError(t, err)
	assert.True(t, expired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInfringementRepositoryCreateTypeDuplicateCode(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInfringementRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO infringement_types")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: InfringementTypeCodeConstraint})

	err := repo.CreateType(context.Background(), &models.InfringementType{
		OrganizationID: "org-1", Code: "SPEED", Name: "Speeding", Severity: models.SeverityMajor,
		DefaultPoints: 3, DefaultFineAmount: decimal.NewFromInt(100), StatutoryLimitDays: 28, Active: true,
	})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, InfringementTypeCodeConstraint))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInfringementRepositoryOpenAtReconstructsPastState(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewInfringementRepository(db)
	issue := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	payment := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(payment_date, updated_at::date) > $3")).
		WithArgs("org-1", "drv-1", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows(infringementRowColumns).
			AddRow("inf-1", "org-1", "drv-1", nil, "type-1", issue, issue, "major", 3, "150.00", "0", "resolved",
				issue.AddDate(0, 0, 28), payment, "entry-1", nil, "", 3, time.Now(), time.Now()))

	list, err := repo.OpenAt(context.Background(), "org-1", "drv-1", time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.InfringementStatusResolved, list[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
