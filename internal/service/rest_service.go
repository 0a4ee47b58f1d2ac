package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/internal/repository"
	"github.com/noah-isme/fleet-compliance-api/pkg/config"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type restStore interface {
	CreateDaily(ctx context.Context, rest *models.DailyRest) error
	ReplaceDaily(ctx context.Context, rest *models.DailyRest) error
	ListDaily(ctx context.Context, organizationID string, filter models.RestPeriodFilter) ([]models.DailyRest, error)
	GetWeekly(ctx context.Context, organizationID, driverID string, weekStart time.Time) (*models.WeeklyRest, error)
	CreateWeekly(ctx context.Context, weekly *models.WeeklyRest) error
	UpdateWeekly(ctx context.Context, weekly *models.WeeklyRest, expectedVersion int64) error
	ListWeekly(ctx context.Context, organizationID string, filter models.RestPeriodFilter) ([]models.WeeklyRest, error)
	ListOverdueCompensations(ctx context.Context, from, asOf time.Time) ([]models.WeeklyRest, error)
}

const defaultRestListWeeks = 12

// RestService tracks daily and weekly rest against the statutory thresholds.
type RestService struct {
	repo        restStore
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
	policy      config.RestConfig
	invalidator ScoreInvalidator
	now         func() time.Time
}

// RestOption configures the rest service.
type RestOption func(*RestService)

// WithRestInvalidator drops cached scores after rest bookkeeping changes.
func WithRestInvalidator(inv ScoreInvalidator) RestOption {
	return func(s *RestService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// WithRestClock overrides the evaluation clock.
func WithRestClock(now func() time.Time) RestOption {
	return func(s *RestService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRestService constructs the service. Zero thresholds fall back to the EU defaults.
func NewRestService(repo restStore, audit auditWriter, validate *validator.Validate, logger *zap.Logger, policy config.RestConfig, opts ...RestOption) *RestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RestService{
		repo:        repo,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		policy:      withRestDefaults(policy),
		invalidator: noopInvalidator{},
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

func withRestDefaults(p config.RestConfig) config.RestConfig {
	if p.DailyRegularHours <= 0 {
		p.DailyRegularHours = 11
	}
	if p.DailyReducedHours <= 0 {
		p.DailyReducedHours = 9
	}
	if p.MaxReducedDailyRests <= 0 {
		p.MaxReducedDailyRests = 3
	}
	if p.WeeklyRegularHours <= 0 {
		p.WeeklyRegularHours = 45
	}
	if p.WeeklyReducedHours <= 0 {
		p.WeeklyReducedHours = 24
	}
	if p.CompensationWindow <= 0 {
		p.CompensationWindow = 21 * 24 * time.Hour
	}
	if p.ViolationLookbackWeeks <= 0 {
		p.ViolationLookbackWeeks = 52
	}
	return p
}

func (s *RestService) classifyDaily(hours float64) models.RestType {
	switch {
	case hours >= s.policy.DailyRegularHours:
		return models.RestTypeRegular
	case hours >= s.policy.DailyReducedHours:
		return models.RestTypeReduced
	default:
		return models.RestTypeInsufficient
	}
}

func (s *RestService) classifyWeekly(hours float64) models.RestType {
	switch {
	case hours >= s.policy.WeeklyRegularHours:
		return models.RestTypeRegular
	case hours >= s.policy.WeeklyReducedHours:
		return models.RestTypeReduced
	default:
		return models.RestTypeInsufficient
	}
}

func hoursBetween(start, end time.Time) float64 {
	return math.Round(end.Sub(start).Hours()*100) / 100
}

// RecordDailyRest stores the rest period of one day. A second record for the same day is
// rejected unless Overwrite is set.
func (s *RestService) RecordDailyRest(ctx context.Context, scope models.Scope, in models.DailyRestInput) (*models.DailyRest, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err)
	}
	date := models.DateOf(in.Date)
	start, end := in.StartTime.UTC(), in.EndTime.UTC()
	if !end.After(start) {
		return nil, invalid("rest end must be after its start")
	}
	if !models.DateOf(start).Equal(date) {
		return nil, invalid(fmt.Sprintf("rest must start on %s", date.Format(models.DateLayout)))
	}

	rest := &models.DailyRest{
		OrganizationID: scope.OrganizationID,
		DriverID:       in.DriverID,
		RestDate:       date,
		StartTime:      start,
		EndTime:        end,
		DurationHours:  hoursBetween(start, end),
	}
	rest.RestType = s.classifyDaily(rest.DurationHours)

	var err error
	if in.Overwrite {
		err = s.repo.ReplaceDaily(ctx, rest)
	} else {
		err = s.repo.CreateDaily(ctx, rest)
	}
	if err != nil {
		if repository.IsUniqueViolation(err, repository.DailyRestUniqueConstraint) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateRecord,
				fmt.Sprintf("daily rest for %s already recorded", date.Format(models.DateLayout)))
		}
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "driver not found"), "failed to record daily rest")
	}

	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, in.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionDailyRestRecord, "daily_rest", rest.ID, nil, rest)
	return rest, nil
}

// RecordWeeklyRest stores a standalone weekly rest block on the week's bookkeeping row.
func (s *RestService) RecordWeeklyRest(ctx context.Context, scope models.Scope, in models.WeeklyRestBlockInput) (*models.WeeklyRest, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err)
	}
	weekStart := models.DateOf(in.WeekStart)
	weekEnd := models.AddDays(weekStart, 6)
	start, end := in.StartTime.UTC(), in.EndTime.UTC()
	if !end.After(start) {
		return nil, invalid("rest end must be after its start")
	}
	if startDay := models.DateOf(start); startDay.Before(weekStart) || startDay.After(weekEnd) {
		return nil, invalid("weekly rest must start within the week")
	}

	weekly, err := s.loadWeekly(ctx, scope, in.DriverID, weekStart)
	if err != nil {
		return nil, err
	}
	var before *models.WeeklyRest
	if weekly != nil {
		snapshot := *weekly
		before = &snapshot
	} else {
		fresh := s.newWeekly(scope, in.DriverID, weekStart)
		weekly = &fresh
	}
	weekly.RestStartTime = &start
	weekly.RestEndTime = &end
	weekly.BlockHours = hoursBetween(start, end)

	if err := s.saveWeekly(ctx, weekly, before != nil); err != nil {
		return nil, err
	}

	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, in.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionWeeklyRestRecord, "weekly_rest", weekly.ID, before, weekly)
	return weekly, nil
}

// EvaluateWeeklyRest derives the classification and findings of a driver week.
// The stored bookkeeping is only written when the derived values changed, so repeated
// calls on unchanged records return identical results without further writes.
func (s *RestService) EvaluateWeeklyRest(ctx context.Context, scope models.Scope, driverID string, weekStart, asOf time.Time) (*models.WeeklyRestResult, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if driverID == "" {
		return nil, invalid("driver id is required")
	}
	if weekStart.IsZero() {
		return nil, invalid("week start is required")
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	weekStart = models.DateOf(weekStart)
	weekEnd := models.AddDays(weekStart, 6)

	dailies, err := s.repo.ListDaily(ctx, scope.OrganizationID, models.RestPeriodFilter{DriverID: driverID, From: weekStart, To: weekEnd})
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to load daily rests")
	}
	stored, err := s.loadWeekly(ctx, scope, driverID, weekStart)
	if err != nil {
		return nil, err
	}

	weekly := s.newWeekly(scope, driverID, weekStart)
	if stored != nil {
		weekly = *stored
	}
	total := weekly.BlockHours
	for _, d := range dailies {
		total += d.DurationHours
	}
	weekly.TotalRestHours = math.Round(total*100) / 100
	weekly.RestType = s.classifyWeekly(weekly.TotalRestHours)
	weekly.CompensationRequired = weekly.RestType == models.RestTypeReduced
	if weekly.CompensationRequired {
		deadline := weekEnd.Add(s.policy.CompensationWindow)
		deadline = models.DateOf(deadline)
		weekly.CompensationDeadline = &deadline
	} else {
		weekly.CompensationDeadline = nil
	}

	result := &models.WeeklyRestResult{
		DailyRecords: dailies,
		Warnings:     []models.RestFinding{},
		Violations:   []models.RestFinding{},
	}
	if result.DailyRecords == nil {
		result.DailyRecords = []models.DailyRest{}
	}
	s.collectFindings(result, weekly, dailies, asOf)

	if stored == nil || bookkeepingChanged(stored, &weekly) {
		evaluatedAt := s.now().UTC()
		weekly.EvaluatedAt = &evaluatedAt
		if err := s.saveWeekly(ctx, &weekly, stored != nil); err != nil {
			return nil, err
		}
		result.Updated = true
		s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, driverID)
		s.logger.Info("weekly rest evaluated",
			zap.String("organization_id", scope.OrganizationID),
			zap.String("driver_id", driverID),
			zap.String("week_start", weekStart.Format(models.DateLayout)),
			zap.String("rest_type", string(weekly.RestType)),
			zap.Int("violations", len(result.Violations)),
		)
	}
	result.WeeklyRest = weekly
	return result, nil
}

func (s *RestService) collectFindings(result *models.WeeklyRestResult, weekly models.WeeklyRest, dailies []models.DailyRest, asOf time.Time) {
	violation := func(code, message string, date *time.Time) {
		result.Violations = append(result.Violations, models.RestFinding{Code: code, Message: message, Date: date, InfringementCode: code})
	}
	warning := func(code, message string, date *time.Time) {
		result.Warnings = append(result.Warnings, models.RestFinding{Code: code, Message: message, Date: date})
	}

	reduced := 0
	for i := range dailies {
		d := dailies[i]
		date := d.RestDate
		switch d.RestType {
		case models.RestTypeInsufficient:
			violation(models.FindingDailyRestInsufficient,
				fmt.Sprintf("daily rest of %.2fh is below the %.0fh minimum", d.DurationHours, s.policy.DailyReducedHours), &date)
		case models.RestTypeReduced:
			reduced++
			warning(models.FindingDailyRestReduced,
				fmt.Sprintf("daily rest of %.2fh is reduced", d.DurationHours), &date)
		}
	}
	if reduced > s.policy.MaxReducedDailyRests {
		violation(models.FindingDailyRestReductionLimit,
			fmt.Sprintf("%d reduced daily rests exceed the limit of %d", reduced, s.policy.MaxReducedDailyRests), nil)
	}
	if len(dailies) < 7 {
		warning(models.FindingDailyRestMissing, fmt.Sprintf("%d of 7 daily rests recorded", len(dailies)), nil)
	}

	switch weekly.RestType {
	case models.RestTypeReduced:
		warning(models.FindingWeeklyRestReduced,
			fmt.Sprintf("weekly rest of %.2fh is reduced; compensation due by %s",
				weekly.TotalRestHours, weekly.CompensationDeadline.Format(models.DateLayout)), nil)
	case models.RestTypeInsufficient:
		violation(models.FindingWeeklyRestBelowMinimum,
			fmt.Sprintf("weekly rest of %.2fh is below the %.0fh minimum", weekly.TotalRestHours, s.policy.WeeklyReducedHours), nil)
	}
	if weekly.CompensationOverdue(asOf) {
		deadline := *weekly.CompensationDeadline
		violation(models.FindingCompensationOverdue, "reduced weekly rest was not compensated in time", &deadline)
	}
}

func bookkeepingChanged(stored, derived *models.WeeklyRest) bool {
	return stored.TotalRestHours != derived.TotalRestHours ||
		stored.RestType != derived.RestType ||
		stored.CompensationRequired != derived.CompensationRequired ||
		!sameDate(stored.CompensationDeadline, derived.CompensationDeadline)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return models.DateOf(*a).Equal(models.DateOf(*b))
}

// RecordCompensation closes the compensation owed for a reduced week.
func (s *RestService) RecordCompensation(ctx context.Context, scope models.Scope, in models.CompensationInput) (*models.WeeklyRest, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err)
	}
	weekStart := models.DateOf(in.WeekStart)
	weekly, err := s.loadWeekly(ctx, scope, in.DriverID, weekStart)
	if err != nil {
		return nil, err
	}
	if weekly == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "weekly rest not evaluated")
	}
	if !weekly.CompensationRequired {
		return nil, invalid("week does not require compensation")
	}
	if weekly.CompensationDate != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "compensation already recorded")
	}
	date := models.DateOf(in.Date)
	if !date.After(weekly.WeekEndDate) {
		return nil, invalid("compensation must be taken after the reduced week")
	}
	if weekly.CompensationDeadline != nil && date.After(*weekly.CompensationDeadline) {
		return nil, invalid(fmt.Sprintf("compensation deadline %s has passed", weekly.CompensationDeadline.Format(models.DateLayout)))
	}
	shortfall := math.Round((s.policy.WeeklyRegularHours-weekly.TotalRestHours)*100) / 100
	if in.Hours < shortfall {
		return nil, invalid(fmt.Sprintf("compensation of %.2fh is below the %.2fh shortfall", in.Hours, shortfall))
	}

	before := *weekly
	weekly.CompensationDate = &date
	weekly.CompensationHours = in.Hours
	if err := s.saveWeekly(ctx, weekly, true); err != nil {
		return nil, err
	}

	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, in.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionCompensationRecord, "weekly_rest", weekly.ID, before, weekly)
	return weekly, nil
}

// ListDailyRests returns daily records within the range, the last 12 weeks by default.
func (s *RestService) ListDailyRests(ctx context.Context, scope models.Scope, filter models.RestPeriodFilter) ([]models.DailyRest, error) {
	filter, err := s.normalizeRange(scope, filter)
	if err != nil {
		return nil, err
	}
	rests, err := s.repo.ListDaily(ctx, scope.OrganizationID, filter)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list daily rests")
	}
	return rests, nil
}

// ListWeeklyRests returns the evaluated weeks starting within the range.
func (s *RestService) ListWeeklyRests(ctx context.Context, scope models.Scope, filter models.RestPeriodFilter) ([]models.WeeklyRest, error) {
	filter, err := s.normalizeRange(scope, filter)
	if err != nil {
		return nil, err
	}
	weeks, err := s.repo.ListWeekly(ctx, scope.OrganizationID, filter)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list weekly rests")
	}
	return weeks, nil
}

// CountViolations counts insufficient and overdue weeks starting in the trailing lookback
// window ending at asOf.
func (s *RestService) CountViolations(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (int, error) {
	to := models.DateOf(asOf)
	from := models.AddDays(to, -7*s.policy.ViolationLookbackWeeks)
	weeks, err := s.ListWeeklyRests(ctx, scope, models.RestPeriodFilter{DriverID: driverID, From: from, To: to})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, w := range weeks {
		if w.RestType == models.RestTypeInsufficient || w.CompensationOverdue(asOf) {
			count++
		}
	}
	return count, nil
}

// OverdueCompensations lists weeks across organizations whose compensation deadline
// passed before asOf, within the violation lookback window.
func (s *RestService) OverdueCompensations(ctx context.Context, asOf time.Time) ([]models.WeeklyRest, error) {
	to := models.DateOf(asOf)
	from := models.AddDays(to, -7*s.policy.ViolationLookbackWeeks)
	weeks, err := s.repo.ListOverdueCompensations(ctx, from, to)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list overdue compensations")
	}
	return weeks, nil
}

func (s *RestService) normalizeRange(scope models.Scope, filter models.RestPeriodFilter) (models.RestPeriodFilter, error) {
	if err := requireScope(scope); err != nil {
		return filter, err
	}
	if filter.DriverID == "" {
		return filter, invalid("driver id is required")
	}
	if filter.To.IsZero() {
		filter.To = s.now()
	}
	if filter.From.IsZero() {
		filter.From = models.AddDays(filter.To, -7*defaultRestListWeeks)
	}
	if filter.To.Before(filter.From) {
		return filter, invalid("date range is inverted")
	}
	return filter, nil
}

func (s *RestService) newWeekly(scope models.Scope, driverID string, weekStart time.Time) models.WeeklyRest {
	return models.WeeklyRest{
		OrganizationID: scope.OrganizationID,
		DriverID:       driverID,
		WeekStartDate:  weekStart,
		WeekEndDate:    models.AddDays(weekStart, 6),
		RestType:       models.RestTypeInsufficient,
	}
}

func (s *RestService) loadWeekly(ctx context.Context, scope models.Scope, driverID string, weekStart time.Time) (*models.WeeklyRest, error) {
	weekly, err := s.repo.GetWeekly(ctx, scope.OrganizationID, driverID, weekStart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError(err, appErrors.ErrNotFound, "failed to load weekly rest")
	}
	return weekly, nil
}

// saveWeekly writes the row with the version read earlier. A concurrent first write of
// the same week surfaces as a concurrency conflict rather than a duplicate.
func (s *RestService) saveWeekly(ctx context.Context, weekly *models.WeeklyRest, exists bool) error {
	var err error
	if exists {
		err = s.repo.UpdateWeekly(ctx, weekly, weekly.Version)
	} else {
		err = s.repo.CreateWeekly(ctx, weekly)
	}
	if err == nil {
		return nil
	}
	if repository.IsUniqueViolation(err) {
		return appErrors.WrapAs(err, appErrors.ErrConcurrency, "")
	}
	return storeError(err, appErrors.Clone(appErrors.ErrNotFound, "driver not found"), "failed to save weekly rest")
}
