package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/internal/repository"
	"github.com/noah-isme/fleet-compliance-api/pkg/config"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type restStoreStub struct {
	dailies   map[string]*models.DailyRest
	weeks     map[string]*models.WeeklyRest
	writes    int
	staleNext bool
	seq       int
}

func newRestStoreStub() *restStoreStub {
	return &restStoreStub{dailies: make(map[string]*models.DailyRest), weeks: make(map[string]*models.WeeklyRest)}
}

func restKey(driverID string, d time.Time) string {
	return driverID + "|" + d.Format(models.DateLayout)
}

func (s *restStoreStub) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *restStoreStub) CreateDaily(ctx context.Context, rest *models.DailyRest) error {
	key := restKey(rest.DriverID, rest.RestDate)
	if _, ok := s.dailies[key]; ok {
		return &pq.Error{Code: "23505", Constraint: repository.DailyRestUniqueConstraint}
	}
	rest.ID = s.nextID("daily")
	copy := *rest
	s.dailies[key] = &copy
	return nil
}

func (s *restStoreStub) ReplaceDaily(ctx context.Context, rest *models.DailyRest) error {
	key := restKey(rest.DriverID, rest.RestDate)
	if existing, ok := s.dailies[key]; ok {
		rest.ID = existing.ID
	} else {
		rest.ID = s.nextID("daily")
	}
	copy := *rest
	s.dailies[key] = &copy
	return nil
}

func (s *restStoreStub) ListDaily(ctx context.Context, organizationID string, filter models.RestPeriodFilter) ([]models.DailyRest, error) {
	var out []models.DailyRest
	for _, d := range s.dailies {
		if d.DriverID == filter.DriverID && !d.RestDate.Before(models.DateOf(filter.From)) && !d.RestDate.After(models.DateOf(filter.To)) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RestDate.Before(out[j].RestDate) })
	return out, nil
}

func (s *restStoreStub) GetWeekly(ctx context.Context, organizationID, driverID string, weekStart time.Time) (*models.WeeklyRest, error) {
	if w, ok := s.weeks[restKey(driverID, weekStart)]; ok {
		copy := *w
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *restStoreStub) CreateWeekly(ctx context.Context, weekly *models.WeeklyRest) error {
	key := restKey(weekly.DriverID, weekly.WeekStartDate)
	if _, ok := s.weeks[key]; ok {
		return &pq.Error{Code: "23505", Constraint: "weekly_rests_organization_id_driver_id_week_start_date_key"}
	}
	weekly.ID = s.nextID("week")
	weekly.Version = 1
	copy := *weekly
	s.weeks[key] = &copy
	s.writes++
	return nil
}

func (s *restStoreStub) UpdateWeekly(ctx context.Context, weekly *models.WeeklyRest, expectedVersion int64) error {
	key := restKey(weekly.DriverID, weekly.WeekStartDate)
	stored, ok := s.weeks[key]
	if !ok || stored.Version != expectedVersion || s.staleNext {
		s.staleNext = false
		return repository.ErrStaleVersion
	}
	weekly.Version = expectedVersion + 1
	copy := *weekly
	s.weeks[key] = &copy
	s.writes++
	return nil
}

func (s *restStoreStub) ListWeekly(ctx context.Context, organizationID string, filter models.RestPeriodFilter) ([]models.WeeklyRest, error) {
	var out []models.WeeklyRest
	for _, w := range s.weeks {
		if w.DriverID == filter.DriverID && !w.WeekStartDate.Before(models.DateOf(filter.From)) && !w.WeekStartDate.After(models.DateOf(filter.To)) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStartDate.Before(out[j].WeekStartDate) })
	return out, nil
}

func (s *restStoreStub) ListOverdueCompensations(ctx context.Context, from, asOf time.Time) ([]models.WeeklyRest, error) {
	var out []models.WeeklyRest
	for _, w := range s.weeks {
		if w.CompensationDeadline == nil || w.CompensationDeadline.Before(from) {
			continue
		}
		if w.CompensationOverdue(asOf) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompensationDeadline.Before(*out[j].CompensationDeadline) })
	return out, nil
}

func newTestRestService(store *restStoreStub) *RestService {
	return NewRestService(store, &auditRecorder{}, nil, nil, config.RestConfig{}, WithRestClock(fixedClock("2024-03-11")))
}

// restOn builds a rest starting at 20:00 on date and lasting hours.
func restOn(driverID, date string, hours float64) models.DailyRestInput {
	start := day(date).Add(20 * time.Hour)
	return models.DailyRestInput{
		DriverID:  driverID,
		Date:      day(date),
		StartTime: start,
		EndTime:   start.Add(time.Duration(hours * float64(time.Hour))),
	}
}

func recordWeek(t *testing.T, svc *RestService, driverID string, hours ...float64) {
	t.Helper()
	for i, h := range hours {
		date := models.AddDays(day("2024-03-04"), i).Format(models.DateLayout)
		_, err := svc.RecordDailyRest(context.Background(), testScope, restOn(driverID, date, h))
		require.NoError(t, err)
	}
}

func findingCodes(findings []models.RestFinding) []string {
	codes := make([]string, 0, len(findings))
	for _, f := range findings {
		codes = append(codes, f.Code)
	}
	return codes
}

func TestRestServiceRecordDailyRest(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)
	ctx := context.Background()

	rest, err := svc.RecordDailyRest(ctx, testScope, restOn("drv-1", "2024-03-04", 11))
	require.NoError(t, err)
	assert.Equal(t, models.RestTypeRegular, rest.RestType)
	assert.Equal(t, 11.0, rest.DurationHours)

	_, err = svc.RecordDailyRest(ctx, testScope, restOn("drv-1", "2024-03-04", 9.5))
	require.ErrorIs(t, err, appErrors.ErrDuplicateRecord)

	in := restOn("drv-1", "2024-03-04", 9.5)
	in.Overwrite = true
	replaced, err := svc.RecordDailyRest(ctx, testScope, in)
	require.NoError(t, err)
	assert.Equal(t, rest.ID, replaced.ID)
	assert.Equal(t, models.RestTypeReduced, replaced.RestType)

	short, err := svc.RecordDailyRest(ctx, testScope, restOn("drv-1", "2024-03-05", 8))
	require.NoError(t, err)
	assert.Equal(t, models.RestTypeInsufficient, short.RestType)
}

func TestRestServiceRecordDailyRestValidation(t *testing.T) {
	svc := newTestRestService(newRestStoreStub())
	ctx := context.Background()

	inverted := restOn("drv-1", "2024-03-04", 10)
	inverted.StartTime, inverted.EndTime = inverted.EndTime, inverted.StartTime
	_, err := svc.RecordDailyRest(ctx, testScope, inverted)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	wrongDay := restOn("drv-1", "2024-03-04", 10)
	wrongDay.Date = day("2024-03-05")
	_, err = svc.RecordDailyRest(ctx, testScope, wrongDay)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.RecordDailyRest(ctx, testScope, models.DailyRestInput{DriverID: "drv-1"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRestServiceEvaluateReducedWeek(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)
	recordWeek(t, svc, "drv-1", 7, 7, 7, 7, 7, 5)

	result, err := svc.EvaluateWeeklyRest(context.Background(), testScope, "drv-1", day("2024-03-04"), time.Time{})
	require.NoError(t, err)
	weekly := result.WeeklyRest
	assert.Equal(t, 40.0, weekly.TotalRestHours)
	assert.Equal(t, models.RestTypeReduced, weekly.RestType)
	assert.True(t, weekly.CompensationRequired)
	require.NotNil(t, weekly.CompensationDeadline)
	assert.Equal(t, day("2024-03-31"), *weekly.CompensationDeadline)
	assert.Equal(t, day("2024-03-10"), weekly.WeekEndDate)

	assert.Contains(t, findingCodes(result.Warnings), models.FindingWeeklyRestReduced)
	assert.Contains(t, findingCodes(result.Warnings), models.FindingDailyRestMissing)
	assert.NotContains(t, findingCodes(result.Violations), models.FindingWeeklyRestBelowMinimum)
	assert.Contains(t, findingCodes(result.Violations), models.FindingDailyRestInsufficient)
	for _, v := range result.Violations {
		assert.Equal(t, v.Code, v.InfringementCode)
	}
	for _, w := range result.Warnings {
		assert.Empty(t, w.InfringementCode)
	}
}

func TestRestServiceEvaluateIsIdempotent(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)
	recordWeek(t, svc, "drv-1", 11, 11, 9.5, 11, 11, 11, 12)
	ctx := context.Background()

	first, err := svc.EvaluateWeeklyRest(ctx, testScope, "drv-1", day("2024-03-04"), time.Time{})
	require.NoError(t, err)
	assert.True(t, first.Updated)
	assert.Equal(t, 1, store.writes)

	second, err := svc.EvaluateWeeklyRest(ctx, testScope, "drv-1", day("2024-03-04"), time.Time{})
	require.NoError(t, err)
	assert.False(t, second.Updated)
	assert.Equal(t, 1, store.writes)
	assert.Equal(t, first.WeeklyRest, second.WeeklyRest)
	assert.Equal(t, first.Warnings, second.Warnings)
	assert.Equal(t, first.Violations, second.Violations)
	assert.Equal(t, first.DailyRecords, second.DailyRecords)

	assert.Equal(t, models.RestTypeRegular, second.WeeklyRest.RestType)
	assert.False(t, second.WeeklyRest.CompensationRequired)
	assert.Nil(t, second.WeeklyRest.CompensationDeadline)
}

func TestRestServiceEvaluateFlagsViolations(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)
	recordWeek(t, svc, "drv-1", 9.5, 9.5, 2, 3, 2, 1)
	recordWeek(t, svc, "drv-2", 9.5, 9.5, 9.5, 9.5, 11, 11, 11)
	ctx := context.Background()

	result, err := svc.EvaluateWeeklyRest(ctx, testScope, "drv-1", day("2024-03-04"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 27.0, result.WeeklyRest.TotalRestHours)
	assert.Equal(t, models.RestTypeReduced, result.WeeklyRest.RestType)

	_, err = svc.RecordDailyRest(ctx, testScope, restOn("drv-3", "2024-03-04", 20))
	require.NoError(t, err)
	result, err = svc.EvaluateWeeklyRest(ctx, testScope, "drv-3", day("2024-03-04"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, models.RestTypeInsufficient, result.WeeklyRest.RestType)
	assert.Contains(t, findingCodes(result.Violations), models.FindingWeeklyRestBelowMinimum)
	assert.False(t, result.WeeklyRest.CompensationRequired)

	result, err = svc.EvaluateWeeklyRest(ctx, testScope, "drv-2", day("2024-03-04"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, models.RestTypeRegular, result.WeeklyRest.RestType)
	assert.Contains(t, findingCodes(result.Violations), models.FindingDailyRestReductionLimit)
	assert.NotContains(t, findingCodes(result.Warnings), models.FindingDailyRestMissing)
}

func TestRestServiceWeeklyBlockCountsTowardTotal(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)
	ctx := context.Background()
	recordWeek(t, svc, "drv-1", 11, 11, 11)

	start := day("2024-03-09").Add(6 * time.Hour)
	_, err := svc.RecordWeeklyRest(ctx, testScope, models.WeeklyRestBlockInput{
		DriverID: "drv-1", WeekStart: day("2024-03-04"), StartTime: start, EndTime: start.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	result, err := svc.EvaluateWeeklyRest(ctx, testScope, "drv-1", day("2024-03-04"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 24.0, result.WeeklyRest.BlockHours)
	assert.Equal(t, 57.0, result.WeeklyRest.TotalRestHours)
	assert.Equal(t, models.RestTypeRegular, result.WeeklyRest.RestType)

	outside := day("2024-03-12")
	_, err = svc.RecordWeeklyRest(ctx, testScope, models.WeeklyRestBlockInput{
		DriverID: "drv-1", WeekStart: day("2024-03-04"), StartTime: outside, EndTime: outside.Add(time.Hour),
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRestServiceCompensation(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)
	ctx := context.Background()
	recordWeek(t, svc, "drv-1", 7, 7, 7, 7, 7, 5)
	recordWeek(t, svc, "drv-2", 7, 7, 7, 7, 7, 5)
	for _, driver := range []string{"drv-1", "drv-2"} {
		_, err := svc.EvaluateWeeklyRest(ctx, testScope, driver, day("2024-03-04"), time.Time{})
		require.NoError(t, err)
	}

	comp := models.CompensationInput{DriverID: "drv-1", WeekStart: day("2024-03-04"), Date: day("2024-03-20"), Hours: 4}
	_, err := svc.RecordCompensation(ctx, testScope, comp)
	require.ErrorIs(t, err, appErrors.ErrValidation, "below the shortfall")

	comp.Date = day("2024-04-02")
	comp.Hours = 5
	_, err = svc.RecordCompensation(ctx, testScope, comp)
	require.ErrorIs(t, err, appErrors.ErrValidation, "after the deadline")

	comp.Date = day("2024-03-20")
	weekly, err := svc.RecordCompensation(ctx, testScope, comp)
	require.NoError(t, err)
	require.NotNil(t, weekly.CompensationDate)
	assert.Equal(t, 5.0, weekly.CompensationHours)

	_, err = svc.RecordCompensation(ctx, testScope, comp)
	require.ErrorIs(t, err, appErrors.ErrConflict)

	late := day("2024-04-01")
	settled, err := svc.EvaluateWeeklyRest(ctx, testScope, "drv-1", day("2024-03-04"), late)
	require.NoError(t, err)
	assert.NotContains(t, findingCodes(settled.Violations), models.FindingCompensationOverdue)
	assert.False(t, settled.Updated)

	overdue, err := svc.EvaluateWeeklyRest(ctx, testScope, "drv-2", day("2024-03-04"), late)
	require.NoError(t, err)
	assert.Contains(t, findingCodes(overdue.Violations), models.FindingCompensationOverdue)

	count, err := svc.CountViolations(ctx, testScope, "drv-2", late)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = svc.CountViolations(ctx, testScope, "drv-1", late)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRestServiceEvaluateConflict(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)
	ctx := context.Background()
	recordWeek(t, svc, "drv-1", 11)
	_, err := svc.EvaluateWeeklyRest(ctx, testScope, "drv-1", day("2024-03-04"), time.Time{})
	require.NoError(t, err)

	_, err = svc.RecordDailyRest(ctx, testScope, restOn("drv-1", "2024-03-05", 11))
	require.NoError(t, err)
	store.staleNext = true
	_, err = svc.EvaluateWeeklyRest(ctx, testScope, "drv-1", day("2024-03-04"), time.Time{})
	require.ErrorIs(t, err, appErrors.ErrConcurrency)
}

func TestRestServiceListRejectsInvertedRange(t *testing.T) {
	svc := newTestRestService(newRestStoreStub())
	_, err := svc.ListDailyRests(context.Background(), testScope, models.RestPeriodFilter{
		DriverID: "drv-1", From: day("2024-03-10"), To: day("2024-03-01"),
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRestServiceRecordWeeklyRestStartsNewWeek(t *testing.T) {
	store := newRestStoreStub()
	svc := newTestRestService(store)

	start := day("2024-03-09").Add(6 * time.Hour)
	weekly, err := svc.RecordWeeklyRest(context.Background(), testScope, models.WeeklyRestBlockInput{
		DriverID: "drv-1", WeekStart: day("2024-03-04"), StartTime: start, EndTime: start.Add(45 * time.Hour),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, weekly.ID)
	assert.Equal(t, day("2024-03-10"), weekly.WeekEndDate)
	assert.Equal(t, 45.0, weekly.BlockHours)

	stored := store.weeks[restKey("drv-1", day("2024-03-04"))]
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, testOrg, stored.OrganizationID)
}
