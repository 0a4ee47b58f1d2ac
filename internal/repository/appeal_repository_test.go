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

func disputeTransition() InfringementTransition {
	return InfringementTransition{
		OrganizationID:  "org-1",
		ID:              "inf-1",
		From:            []models.InfringementStatus{models.InfringementStatusActive},
		To:              models.InfringementStatusDisputed,
		ExpectedVersion: 2,
	}
}

func TestAppealRepositoryFileDisputesInfringement(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appeals")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE infringements SET status = $1")).
		WithArgs("disputed", "inf-1", "org-1", int64(2), "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	appeal := &models.Appeal{OrganizationID: "org-1", InfringementID: "inf-1", Grounds: "camera fault",
		SubmittedDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), FineReductionAmount: decimal.Zero}
	require.NoError(t, repo.File(context.Background(), appeal, disputeTransition()))
	assert.NotEmpty(t, appeal.ID)
	assert.Equal(t, models.AppealStatusPending, appeal.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryFileRejectsSecondOpenAppeal(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appeals")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: OpenAppealIndex})
	mock.ExpectRollback()

	err := repo.File(context.Background(), &models.Appeal{OrganizationID: "org-1", InfringementID: "inf-1"}, disputeTransition())
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, OpenAppealIndex))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryDecideApprovedPostsEntries(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	penalty := sampleEntry(6)
	offset := sampleEntry(-2)
	offset.ID = "01HZX0000000000000000000AC"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET status = $1, outcome = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE drivers SET ledger_version")).
		WithArgs("drv-1", "org-1", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO points_ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE drivers SET ledger_version")).
		WithArgs("drv-1", "org-1", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO points_ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE infringements SET status = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Decide(context.Background(), AppealDecisionUpdate{
		OrganizationID: "org-1", ID: "appeal-1", Status: models.AppealStatusApproved, Outcome: "reduced",
		PointsReduction: 2, FineReduction: decimal.NewFromInt(50), DecidedBy: "officer-1", DecidedAt: time.Now().UTC(),
	}, InfringementTransition{
		OrganizationID: "org-1", ID: "inf-1", To: models.InfringementStatusResolved, ExpectedVersion: 3,
		From: []models.InfringementStatus{models.InfringementStatusDisputed}, PointsEntryID: &penalty.ID,
	}, []*models.LedgerEntry{penalty, offset}, 10)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppealRepositoryWithdrawRequiresOpenAppeal(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAppealRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE appeals SET status = 'withdrawn'")).
		WithArgs("org-1", "appeal-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Withdraw(context.Background(), "org-1", "appeal-1", InfringementTransition{
		OrganizationID: "org-1", ID: "inf-1", To: models.InfringementStatusActive, ExpectedVersion: 3,
	})
	require.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}
