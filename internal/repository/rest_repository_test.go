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

func TestRestRepositoryReplaceDailyKeepsOriginalID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRestRepository(db)
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (organization_id, driver_id, rest_date) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("rest-original", created))

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	rest := &models.DailyRest{OrganizationID: "org-1", DriverID: "drv-1", RestDate: day,
		StartTime: day.Add(20 * time.Hour), EndTime: day.Add(31 * time.Hour), DurationHours: 11, RestType: models.RestTypeRegular}
	require.NoError(t, repo.ReplaceDaily(context.Background(), rest))
	assert.Equal(t, "rest-original", rest.ID)
	assert.Equal(t, created, rest.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestRepositoryUpdateWeeklyVersionGuard(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRestRepository(db)
	weekly := &models.WeeklyRest{ID: "week-1", OrganizationID: "org-1", TotalRestHours: 40, RestType: models.RestTypeReduced}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE weekly_rests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateWeekly(context.Background(), weekly, 3))
	assert.Equal(t, int64(4), weekly.Version)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE weekly_rests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateWeekly(context.Background(), weekly, 3)
	require.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestRepositoryListDailyUsesDayBounds(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRestRepository(db)
	from := time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM daily_rests")).
		WithArgs("org-1", "drv-1", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "driver_id", "rest_date", "start_time", "end_time",
			"duration_hours", "rest_type", "created_at", "updated_at"}).
			AddRow("r1", "org-1", "drv-1", from, from, from.Add(9*time.Hour), 9.0, "reduced", time.Now(), time.Now()))

	rests, err := repo.ListDaily(context.Background(), "org-1", models.RestPeriodFilter{DriverID: "drv-1", From: from, To: to})
	require.NoError(t, err)
	require.Len(t, rests, 1)
	assert.Equal(t, models.RestTypeReduced, rests[0].RestType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestRepositoryListOverdueCompensations(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRestRepository(db)
	week := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	deadline := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	from := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	asOf := time.Date(2024, 3, 31, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("w.compensation_date IS NULL")).
		WithArgs(from, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "driver_id", "week_start_date", "week_end_date",
			"rest_start_time", "rest_end_time", "block_hours", "total_rest_hours", "rest_type", "compensation_required",
			"compensation_deadline", "compensation_date", "compensation_hours", "evaluated_at", "version", "created_at", "updated_at"}).
			AddRow("week-1", "org-1", "drv-1", week, week.AddDate(0, 0, 6), nil, nil, 0.0, 40.0, "reduced", true,
				deadline, nil, 0.0, nil, 2, time.Now(), time.Now()))

	weeks, err := repo.ListOverdueCompensations(context.Background(), from, asOf)
	require.NoError(t, err)
	require.Len(t, weeks, 1)
	assert.Equal(t, "drv-1", weeks[0].DriverID)
	assert.True(t, weeks[0].CompensationOverdue(asOf))
	require.NoError(t, mock.ExpectationsWereMet())
}
