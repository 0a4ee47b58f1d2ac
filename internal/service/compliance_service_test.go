package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type driverSourceStub struct {
	drivers map[string]models.Driver
}

func (s *driverSourceStub) Get(_ context.Context, _ models.Scope, id string) (*models.Driver, error) {
	d, ok := s.drivers[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "driver not found")
	}
	return &d, nil
}

func (s *driverSourceStub) ListActive(context.Context, models.Scope) ([]models.Driver, error) {
	out := make([]models.Driver, 0, len(s.drivers))
	for _, id := range []string{"drv-1", "drv-2", "drv-3"} {
		if d, ok := s.drivers[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type scoreInputsStub struct {
	points     map[string]int
	open       map[string][]models.Infringement
	rest       map[string]int
	ledgerHits int
}

func (s *scoreInputsStub) EffectiveBalance(_ context.Context, _ models.Scope, driverID string, asOf time.Time) (*models.PointsBalance, error) {
	s.ledgerHits++
	return &models.PointsBalance{DriverID: driverID, AsOf: asOf, EffectiveBalance: s.points[driverID]}, nil
}

func (s *scoreInputsStub) OpenForDriver(_ context.Context, _ models.Scope, driverID string, _ time.Time) ([]models.Infringement, error) {
	return s.open[driverID], nil
}

func (s *scoreInputsStub) CountViolations(_ context.Context, _ models.Scope, driverID string, _ time.Time) (int, error) {
	return s.rest[driverID], nil
}

type memoryCache struct {
	items map[string][]byte
}

func newMemoryCache() *memoryCache { return &memoryCache{items: map[string][]byte{}} }

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

func datePtr(s string) *time.Time {
	d := day(s)
	return &d
}

func healthyDriver(id string) models.Driver {
	return models.Driver{
		ID:                id,
		OrganizationID:    testOrg,
		FullName:          "Driver " + id,
		LicenseExpiryDate: datePtr("2026-01-01"),
		CPCExpiryDate:     datePtr("2026-01-01"),
		Status:            models.DriverStatusActive,
	}
}

func newTestComplianceService(drivers map[string]models.Driver, inputs *scoreInputsStub, cache *memoryCache) *ComplianceService {
	var cacheSvc *CacheService
	if cache != nil {
		cacheSvc = NewCacheService(cache, nil, time.Hour, nil, true)
	}
	svc := NewComplianceService(&driverSourceStub{drivers: drivers}, inputs, inputs, inputs, cacheSvc, nil, 12, time.Hour)
	return svc.WithComplianceClock(fixedClock("2024-03-01"))
}

func TestAssessDriverCleanRecordIsLowRisk(t *testing.T) {
	score := assessDriver(healthyDriver("drv-1"), 0, nil, 0, day("2024-03-01"), 12)

	assert.Equal(t, 100, score.ViolationScore)
	assert.Equal(t, 100, score.LicenseScore)
	assert.Equal(t, 100, score.TrainingScore)
	assert.Equal(t, 100, score.OverallScore)
	assert.Equal(t, models.RiskLow, score.RiskLevel)
	assert.Empty(t, score.Factors)
	assert.Empty(t, score.Recommendations)
	assert.Equal(t, day("2024-03-01"), score.LastAssessmentDate)
}

func TestAssessDriverAppliesDeductions(t *testing.T) {
	driver := healthyDriver("drv-1")
	driver.CPCExpiryDate = datePtr("2024-04-15")
	open := []models.Infringement{
		{ID: "inf-1", Severity: models.SeveritySerious, Status: models.InfringementStatusActive, IncidentDate: day("2024-02-01")},
		{ID: "inf-2", Severity: models.SeveritySevere, Status: models.InfringementStatusActive, IncidentDate: day("2024-04-01")},
	}

	score := assessDriver(driver, 4, open, 1, day("2024-03-01"), 12)

	// 100 - 20 (points) - 20 (serious) - 10 (rest); the future incident is ignored.
	assert.Equal(t, 50, score.ViolationScore)
	assert.Equal(t, 1, score.ActiveInfringements)
	assert.Equal(t, 100, score.LicenseScore)
	assert.Equal(t, 60, score.TrainingScore)
	// 0.6*50 + 0.25*100 + 0.15*60 = 64
	assert.Equal(t, 64, score.OverallScore)
	assert.Equal(t, models.RiskMedium, score.RiskLevel)

	codes := make([]string, 0, len(score.Recommendations))
	for _, r := range score.Recommendations {
		codes = append(codes, r.Code)
	}
	assert.ElementsMatch(t, []string{"RESOLVE_INFRINGEMENTS", "REVIEW_REST_PLANNING", "COMPLETE_CPC_TRAINING"}, codes)
}

func TestAssessDriverDocumentBoundaries(t *testing.T) {
	asOf := day("2024-03-01")
	cases := []struct {
		name   string
		expiry *time.Time
		want   int
	}{
		{"missing", nil, 0},
		{"expires today", datePtr("2024-03-01"), 0},
		{"within warning window", datePtr("2024-05-30"), 60},
		{"beyond warning window", datePtr("2024-05-31"), 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			driver := healthyDriver("drv-1")
			driver.LicenseExpiryDate = tc.expiry
			score := assessDriver(driver, 0, nil, 0, asOf, 12)
			assert.Equal(t, tc.want, score.LicenseScore)
		})
	}
}

func TestAssessDriverRevocationForcesCritical(t *testing.T) {
	score := assessDriver(healthyDriver("drv-1"), 12, nil, 0, day("2024-03-01"), 12)

	// 0.6*40 + 25 + 15 = 64 would band medium.
	assert.Equal(t, 64, score.OverallScore)
	assert.Equal(t, models.RiskCritical, score.RiskLevel)
	require.NotEmpty(t, score.Recommendations)
	assert.Equal(t, "REVOCATION_RISK", score.Recommendations[0].Code)
}

func TestAssessDriverClampsViolationScore(t *testing.T) {
	score := assessDriver(healthyDriver("drv-1"), 30, nil, 5, day("2024-03-01"), 40)

	assert.Equal(t, 0, score.ViolationScore)
	assert.Equal(t, 40, score.OverallScore)
	assert.Equal(t, models.RiskHigh, score.RiskLevel)
}

func TestComputeScoreIsCachedUntilInvalidated(t *testing.T) {
	inputs := &scoreInputsStub{points: map[string]int{"drv-1": 2}}
	cache := newMemoryCache()
	svc := newTestComplianceService(map[string]models.Driver{"drv-1": healthyDriver("drv-1")}, inputs, cache)

	first, err := svc.ComputeScore(context.Background(), testScope, "drv-1", day("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 90, first.ViolationScore)

	inputs.points["drv-1"] = 4
	second, err := svc.ComputeScore(context.Background(), testScope, "drv-1", day("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Equal(t, 1, inputs.ledgerHits)

	svc.InvalidateDriver(context.Background(), testOrg, "drv-1")
	third, err := svc.ComputeScore(context.Background(), testScope, "drv-1", day("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 80, third.ViolationScore)
	assert.Equal(t, 2, inputs.ledgerHits)
}

func TestComputeScoreUnknownDriver(t *testing.T) {
	svc := newTestComplianceService(map[string]models.Driver{}, &scoreInputsStub{}, nil)

	_, err := svc.ComputeScore(context.Background(), testScope, "ghost", time.Time{})
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.ComputeScore(context.Background(), models.Scope{}, "drv-1", time.Time{})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestOrganizationReportOrdersByScore(t *testing.T) {
	drivers := map[string]models.Driver{
		"drv-1": healthyDriver("drv-1"),
		"drv-2": healthyDriver("drv-2"),
		"drv-3": healthyDriver("drv-3"),
	}
	inputs := &scoreInputsStub{
		points: map[string]int{"drv-2": 12},
		rest:   map[string]int{"drv-3": 2},
	}
	svc := newTestComplianceService(drivers, inputs, nil)

	report, err := svc.OrganizationReport(context.Background(), testScope, time.Time{})
	require.NoError(t, err)

	require.Len(t, report.Scores, 3)
	assert.Equal(t, "drv-2", report.Scores[0].DriverID)
	assert.Equal(t, "drv-3", report.Scores[1].DriverID)
	assert.Equal(t, "drv-1", report.Scores[2].DriverID)
	assert.Equal(t, 1, report.RiskCounts[models.RiskCritical])
	assert.Equal(t, 2, report.RiskCounts[models.RiskLow])
	assert.Equal(t, day("2024-03-01"), report.AsOf)
	// (64 + 88 + 100) / 3
	assert.InDelta(t, 84.0, report.AverageScore, 0.001)
}
