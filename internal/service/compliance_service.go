package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

// Score weights and bands.
const (
	pointDeduction         = 5
	restViolationDeduction = 10
	expiryWarningDays      = 90
	expiringDocumentScore  = 60

	violationWeight = 0.60
	licenseWeight   = 0.25
	trainingWeight  = 0.15

	lowRiskFloor    = 80
	mediumRiskFloor = 60
	highRiskFloor   = 40
)

var severityDeduction = map[models.Severity]int{
	models.SeverityMinor:   5,
	models.SeverityMajor:   10,
	models.SeveritySerious: 20,
	models.SeveritySevere:  35,
}

type driverSource interface {
	Get(ctx context.Context, scope models.Scope, id string) (*models.Driver, error)
	ListActive(ctx context.Context, scope models.Scope) ([]models.Driver, error)
}

type balanceSource interface {
	EffectiveBalance(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.PointsBalance, error)
}

type openInfringementSource interface {
	OpenForDriver(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) ([]models.Infringement, error)
}

type restViolationSource interface {
	CountViolations(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (int, error)
}

// ComplianceService derives per-driver compliance scores. Scores are a pure function of
// the ledger, the open infringements, the rest history and the driver documents.
type ComplianceService struct {
	drivers             driverSource
	ledger              balanceSource
	infringements       openInfringementSource
	rests               restViolationSource
	cache               *CacheService
	logger              *zap.Logger
	revocationThreshold int
	cacheTTL            time.Duration
	now                 func() time.Time
}

// NewComplianceService constructs the aggregator. The cache may be nil.
func NewComplianceService(drivers driverSource, ledger balanceSource, infringements openInfringementSource, rests restViolationSource, cache *CacheService, logger *zap.Logger, revocationThreshold int, cacheTTL time.Duration) *ComplianceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if revocationThreshold <= 0 {
		revocationThreshold = 12
	}
	return &ComplianceService{
		drivers:             drivers,
		ledger:              ledger,
		infringements:       infringements,
		rests:               rests,
		cache:               cache,
		logger:              logger,
		revocationThreshold: revocationThreshold,
		cacheTTL:            cacheTTL,
		now:                 time.Now,
	}
}

// WithComplianceClock overrides the clock used when asOf is omitted.
func (s *ComplianceService) WithComplianceClock(now func() time.Time) *ComplianceService {
	if now != nil {
		s.now = now
	}
	return s
}

// SetSources wires the collaborators that themselves invalidate through this service.
func (s *ComplianceService) SetSources(drivers driverSource, ledger balanceSource, infringements openInfringementSource, rests restViolationSource) {
	s.drivers = drivers
	s.ledger = ledger
	s.infringements = infringements
	s.rests = rests
}

func scoreCacheKey(organizationID, driverID string, asOf time.Time) string {
	return fmt.Sprintf("compliance:%s:%s:%s", organizationID, driverID, asOf.Format(models.DateLayout))
}

// InvalidateDriver drops every cached score of the driver.
func (s *ComplianceService) InvalidateDriver(ctx context.Context, organizationID, driverID string) {
	if s == nil {
		return
	}
	_ = s.cache.Invalidate(ctx, fmt.Sprintf("compliance:%s:%s:*", organizationID, driverID))
}

// ComputeScore assesses a driver at asOf.
func (s *ComplianceService) ComputeScore(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.ComplianceScore, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = models.DateOf(asOf)

	key := scoreCacheKey(scope.OrganizationID, driverID, asOf)
	var cached models.ComplianceScore
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	driver, err := s.drivers.Get(ctx, scope, driverID)
	if err != nil {
		return nil, err
	}
	score, err := s.score(ctx, scope, driver, asOf)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, score, s.cacheTTL)
	return score, nil
}

func (s *ComplianceService) score(ctx context.Context, scope models.Scope, driver *models.Driver, asOf time.Time) (*models.ComplianceScore, error) {
	balance, err := s.ledger.EffectiveBalance(ctx, scope, driver.ID, asOf)
	if err != nil {
		return nil, err
	}
	open, err := s.infringements.OpenForDriver(ctx, scope, driver.ID, asOf)
	if err != nil {
		return nil, err
	}
	restViolations, err := s.rests.CountViolations(ctx, scope, driver.ID, asOf)
	if err != nil {
		return nil, err
	}
	score := assessDriver(*driver, balance.EffectiveBalance, open, restViolations, asOf, s.revocationThreshold)
	return &score, nil
}

// OrganizationReport scores every active driver of the organization.
func (s *ComplianceService) OrganizationReport(ctx context.Context, scope models.Scope, asOf time.Time) (*models.ComplianceReport, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = models.DateOf(asOf)
	drivers, err := s.drivers.ListActive(ctx, scope)
	if err != nil {
		return nil, err
	}

	report := &models.ComplianceReport{
		OrganizationID: scope.OrganizationID,
		AsOf:           asOf,
		GeneratedAt:    s.now().UTC(),
		Scores:         make([]models.ComplianceScore, 0, len(drivers)),
		RiskCounts: map[models.RiskLevel]int{
			models.RiskLow: 0, models.RiskMedium: 0, models.RiskHigh: 0, models.RiskCritical: 0,
		},
	}
	total := 0
	for i := range drivers {
		if err := ctx.Err(); err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "report generation interrupted")
		}
		key := scoreCacheKey(scope.OrganizationID, drivers[i].ID, asOf)
		var score models.ComplianceScore
		if !s.cache.Get(ctx, key, &score) {
			computed, err := s.score(ctx, scope, &drivers[i], asOf)
			if err != nil {
				return nil, err
			}
			score = *computed
			s.cache.Set(ctx, key, score, s.cacheTTL)
		}
		score.DriverName = drivers[i].FullName
		report.Scores = append(report.Scores, score)
		report.RiskCounts[score.RiskLevel]++
		total += score.OverallScore
	}
	sort.SliceStable(report.Scores, func(i, j int) bool {
		return report.Scores[i].OverallScore < report.Scores[j].OverallScore
	})
	if len(report.Scores) > 0 {
		report.AverageScore = math.Round(float64(total)/float64(len(report.Scores))*100) / 100
	}
	s.logger.Info("compliance report generated",
		zap.String("organization_id", scope.OrganizationID),
		zap.Int("drivers", len(report.Scores)),
		zap.Float64("average_score", report.AverageScore),
	)
	return report, nil
}

// assessDriver is the deterministic scoring rule.
func assessDriver(driver models.Driver, points int, open []models.Infringement, restViolations int, asOf time.Time, revocationThreshold int) models.ComplianceScore {
	asOf = models.DateOf(asOf)
	score := models.ComplianceScore{
		DriverID:           driver.ID,
		OrganizationID:     driver.OrganizationID,
		DriverName:         driver.FullName,
		EffectivePoints:    points,
		RestViolations:     restViolations,
		Factors:            []models.ScoreFactor{},
		Recommendations:    []models.Recommendation{},
		LastAssessmentDate: asOf,
	}

	violation := 100
	if points > 0 {
		impact := pointDeduction * points
		violation -= impact
		score.Factors = append(score.Factors, models.ScoreFactor{
			Code: "PENALTY_POINTS", Component: "violation", Impact: -impact,
			Description: fmt.Sprintf("%d active penalty points", points),
		})
	}
	for _, inf := range open {
		if inf.IncidentDate.After(asOf) {
			continue
		}
		score.ActiveInfringements++
		impact := severityDeduction[inf.Severity]
		violation -= impact
		score.Factors = append(score.Factors, models.ScoreFactor{
			Code: "OPEN_INFRINGEMENT", Component: "violation", Impact: -impact,
			Description: fmt.Sprintf("%s infringement %s in force", inf.Severity, inf.ID),
		})
	}
	if restViolations > 0 {
		impact := restViolationDeduction * restViolations
		violation -= impact
		score.Factors = append(score.Factors, models.ScoreFactor{
			Code: "REST_VIOLATIONS", Component: "violation", Impact: -impact,
			Description: fmt.Sprintf("%d weekly rest violations in the lookback window", restViolations),
		})
	}
	score.ViolationScore = clampScore(violation)

	var licenseFactor, trainingFactor *models.ScoreFactor
	score.LicenseScore, licenseFactor = documentScore("LICENSE", "license", "driving licence", driver.LicenseExpiryDate, asOf)
	score.TrainingScore, trainingFactor = documentScore("CPC", "training", "CPC qualification", driver.CPCExpiryDate, asOf)
	for _, f := range []*models.ScoreFactor{licenseFactor, trainingFactor} {
		if f != nil {
			score.Factors = append(score.Factors, *f)
		}
	}

	overall := violationWeight*float64(score.ViolationScore) +
		licenseWeight*float64(score.LicenseScore) +
		trainingWeight*float64(score.TrainingScore)
	score.OverallScore = clampScore(int(math.Round(overall)))
	score.RiskLevel = riskBand(score.OverallScore)
	if points >= revocationThreshold {
		score.RiskLevel = models.RiskCritical
	}
	score.Recommendations = recommend(score, revocationThreshold)
	return score
}

func documentScore(code, component, label string, expiry *time.Time, asOf time.Time) (int, *models.ScoreFactor) {
	switch {
	case expiry == nil:
		return 0, &models.ScoreFactor{Code: code + "_MISSING", Component: component, Impact: -100, Description: label + " expiry not recorded"}
	case !expiry.After(asOf):
		return 0, &models.ScoreFactor{Code: code + "_EXPIRED", Component: component, Impact: -100,
			Description: fmt.Sprintf("%s expired on %s", label, expiry.Format(models.DateLayout))}
	case !expiry.After(models.AddDays(asOf, expiryWarningDays)):
		return expiringDocumentScore, &models.ScoreFactor{Code: code + "_EXPIRING", Component: component, Impact: expiringDocumentScore - 100,
			Description: fmt.Sprintf("%s expires on %s", label, expiry.Format(models.DateLayout))}
	default:
		return 100, nil
	}
}

func riskBand(overall int) models.RiskLevel {
	switch {
	case overall >= lowRiskFloor:
		return models.RiskLow
	case overall >= mediumRiskFloor:
		return models.RiskMedium
	case overall >= highRiskFloor:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

func recommend(score models.ComplianceScore, revocationThreshold int) []models.Recommendation {
	recs := []models.Recommendation{}
	switch {
	case score.EffectivePoints >= revocationThreshold:
		recs = append(recs, models.Recommendation{Code: "REVOCATION_RISK", Priority: "high",
			Message: fmt.Sprintf("points balance %d reached the revocation threshold of %d; suspend driving duties", score.EffectivePoints, revocationThreshold)})
	case score.EffectivePoints >= revocationThreshold-3:
		recs = append(recs, models.Recommendation{Code: "POINTS_NEAR_THRESHOLD", Priority: "high",
			Message: "points balance is close to the revocation threshold; schedule a driver review"})
	}
	if score.ActiveInfringements > 0 {
		recs = append(recs, models.Recommendation{Code: "RESOLVE_INFRINGEMENTS", Priority: "medium",
			Message: fmt.Sprintf("%d infringements remain open", score.ActiveInfringements)})
	}
	if score.RestViolations > 0 {
		recs = append(recs, models.Recommendation{Code: "REVIEW_REST_PLANNING", Priority: "medium",
			Message: "rest violations recorded; review rota planning with the driver"})
	}
	for _, f := range score.Factors {
		switch f.Code {
		case "LICENSE_MISSING", "LICENSE_EXPIRED", "LICENSE_EXPIRING":
			recs = append(recs, models.Recommendation{Code: "RENEW_LICENSE", Priority: priorityFor(f), Message: f.Description})
		case "CPC_MISSING", "CPC_EXPIRED", "CPC_EXPIRING":
			recs = append(recs, models.Recommendation{Code: "COMPLETE_CPC_TRAINING", Priority: priorityFor(f), Message: f.Description})
		}
	}
	return recs
}

func priorityFor(f models.ScoreFactor) string {
	if f.Impact <= -100 {
		return "high"
	}
	return "low"
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
