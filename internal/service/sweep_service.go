package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/ids"
	"github.com/noah-isme/fleet-compliance-api/pkg/jobs"
	"github.com/noah-isme/fleet-compliance-api/pkg/observability"
)

// SweepJobType tags sweep jobs on the background queue.
const SweepJobType = "sweep"

type ledgerExpirer interface {
	ExpireEntries(ctx context.Context, asOf time.Time) (*models.SweepReport, error)
}

type infringementSweeper interface {
	ExpireInfringements(ctx context.Context, asOf time.Time) (*models.SweepReport, error)
	RaiseFromRestViolations(ctx context.Context, scope models.Scope, driverID string, weekStart time.Time, violations []models.RestFinding) ([]models.Infringement, error)
}

type weeklyRestEvaluator interface {
	EvaluateWeeklyRest(ctx context.Context, scope models.Scope, driverID string, weekStart, asOf time.Time) (*models.WeeklyRestResult, error)
	OverdueCompensations(ctx context.Context, asOf time.Time) ([]models.WeeklyRest, error)
}

type activeDriverLister interface {
	ActiveRefs(ctx context.Context) ([]models.DriverRef, error)
}

type exportCleaner interface {
	CleanupExpired() (*models.SweepReport, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ErrorReporter forwards record failures to an external error tracker.
type ErrorReporter func(err error, tags ...map[string]string)

// SweepService runs the idempotent batch entry points.
type SweepService struct {
	ledger        ledgerExpirer
	infringements infringementSweeper
	rests         weeklyRestEvaluator
	drivers       activeDriverLister
	exports       exportCleaner
	queue         jobEnqueuer
	metrics       *MetricsService
	report        ErrorReporter
	logger        *zap.Logger
	now           func() time.Time
}

// SweepOption customises the sweep service.
type SweepOption func(*SweepService)

// WithSweepQueue enables background execution.
func WithSweepQueue(queue jobEnqueuer) SweepOption {
	return func(s *SweepService) { s.queue = queue }
}

// WithSweepMetrics records run metrics.
func WithSweepMetrics(metrics *MetricsService) SweepOption {
	return func(s *SweepService) { s.metrics = metrics }
}

// WithSweepExports enables the export cleanup sweep.
func WithSweepExports(exports exportCleaner) SweepOption {
	return func(s *SweepService) { s.exports = exports }
}

// WithSweepErrorReporter overrides the default Sentry reporter.
func WithSweepErrorReporter(report ErrorReporter) SweepOption {
	return func(s *SweepService) {
		if report != nil {
			s.report = report
		}
	}
}

// WithSweepClock overrides the clock used for defaults.
func WithSweepClock(now func() time.Time) SweepOption {
	return func(s *SweepService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweepService wires the batch runner.
func NewSweepService(ledger ledgerExpirer, infringements infringementSweeper, rests weeklyRestEvaluator, drivers activeDriverLister, logger *zap.Logger, opts ...SweepOption) *SweepService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SweepService{
		ledger:        ledger,
		infringements: infringements,
		rests:         rests,
		drivers:       drivers,
		report:        observability.CaptureErr,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Normalize validates the request and fills defaults.
func (s *SweepService) Normalize(req models.SweepRequest) (models.SweepRequest, error) {
	switch req.Name {
	case models.SweepLedgerExpiry, models.SweepInfringementExpiry, models.SweepWeeklyRestEvaluation:
	case models.SweepExportCleanup:
		if s.exports == nil {
			return req, invalid("export cleanup is not configured")
		}
	default:
		return req, invalid(fmt.Sprintf("unknown sweep %q", req.Name))
	}
	if req.AsOf.IsZero() {
		req.AsOf = s.now()
	}
	req.AsOf = models.DateOf(req.AsOf)
	if req.Name == models.SweepWeeklyRestEvaluation {
		if req.WeekStart.IsZero() {
			req.WeekStart = previousWeekStart(req.AsOf)
		}
		req.WeekStart = models.DateOf(req.WeekStart)
		if req.WeekStart.After(req.AsOf) {
			return req, invalid("week start must not be after the evaluation date")
		}
	}
	return req, nil
}

// Run executes the sweep inline and returns its report. Record failures are counted
// in the report; only failures of the sweep itself return an error.
func (s *SweepService) Run(ctx context.Context, req models.SweepRequest) (*models.SweepReport, error) {
	req, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var report *models.SweepReport
	switch req.Name {
	case models.SweepLedgerExpiry:
		report, err = s.ledger.ExpireEntries(ctx, req.AsOf)
	case models.SweepInfringementExpiry:
		report, err = s.infringements.ExpireInfringements(ctx, req.AsOf)
	case models.SweepWeeklyRestEvaluation:
		report, err = s.evaluateWeeklyRest(ctx, req.WeekStart, req.AsOf)
	case models.SweepExportCleanup:
		report, err = s.exports.CleanupExpired()
	}
	failed := 0
	if report != nil {
		failed = report.Failed
	}
	s.metrics.ObserveSweep(req.Name, failed, time.Since(start))

	fields := []zap.Field{zap.String("sweep", req.Name), zap.Time("as_of", req.AsOf)}
	if report != nil {
		fields = append(fields, zap.Int("processed", report.Processed), zap.Int("succeeded", report.Succeeded), zap.Int("failed", report.Failed))
	}
	if err != nil {
		s.report(err, map[string]string{"sweep": req.Name})
		s.logger.Error("sweep aborted", append(fields, zap.Error(err))...)
		return report, err
	}
	if failed > 0 {
		s.report(fmt.Errorf("sweep %s: %d records failed", req.Name, failed), map[string]string{"sweep": req.Name})
		s.logger.Warn("sweep finished with failures", fields...)
	} else {
		s.logger.Info("sweep finished", fields...)
	}
	return report, nil
}

// Enqueue validates the request and hands it to the background queue.
func (s *SweepService) Enqueue(req models.SweepRequest) (*models.SweepJob, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrStorageUnavailable, "background queue is not configured")
	}
	req, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}
	job := &models.SweepJob{ID: ids.NewUUID(), Request: req}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: SweepJobType, Payload: req}); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "failed to enqueue sweep")
	}
	return job, nil
}

// HandleJob is the queue handler for sweep jobs. Only aborted runs are retried.
func (s *SweepService) HandleJob(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(models.SweepRequest)
	if !ok {
		s.logger.Error("dropping malformed sweep job", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	_, err := s.Run(ctx, req)
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && !appErr.Retryable {
		return nil
	}
	return err
}

// evaluateWeeklyRest evaluates the given week of every active driver, then revisits
// older weeks whose compensation went overdue so that violation is raised too.
func (s *SweepService) evaluateWeeklyRest(ctx context.Context, weekStart, asOf time.Time) (*models.SweepReport, error) {
	report := &models.SweepReport{Name: models.SweepWeeklyRestEvaluation, AsOf: asOf, StartedAt: s.now().UTC()}
	refs, err := s.drivers.ActiveRefs(ctx)
	if err != nil {
		report.FinishedAt = s.now().UTC()
		return report, err
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = s.now().UTC()
			return report, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "weekly rest evaluation interrupted")
		}
		s.evaluateWeek(ctx, report, ref.OrganizationID, ref.ID, weekStart, asOf, nil)
	}

	overdue, err := s.rests.OverdueCompensations(ctx, asOf)
	if err != nil {
		report.FinishedAt = s.now().UTC()
		return report, err
	}
	for _, week := range overdue {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = s.now().UTC()
			return report, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "weekly rest evaluation interrupted")
		}
		if week.WeekStartDate.Equal(weekStart) {
			continue
		}
		s.evaluateWeek(ctx, report, week.OrganizationID, week.DriverID, week.WeekStartDate, asOf, func(f models.RestFinding) bool {
			return f.Code == models.FindingCompensationOverdue
		})
	}
	report.FinishedAt = s.now().UTC()
	return report, nil
}

// evaluateWeek evaluates one driver week and raises its violations, optionally
// narrowed by keep. Failures are recorded on the report.
func (s *SweepService) evaluateWeek(ctx context.Context, report *models.SweepReport, organizationID, driverID string, weekStart, asOf time.Time, keep func(models.RestFinding) bool) {
	report.Processed++
	scope := models.SystemScope(organizationID)
	result, err := s.rests.EvaluateWeeklyRest(ctx, scope, driverID, weekStart, asOf)
	if err == nil {
		violations := result.Violations
		if keep != nil {
			violations = make([]models.RestFinding, 0, len(result.Violations))
			for _, v := range result.Violations {
				if keep(v) {
					violations = append(violations, v)
				}
			}
		}
		if len(violations) > 0 {
			_, err = s.infringements.RaiseFromRestViolations(ctx, scope, driverID, weekStart, violations)
		}
	}
	if err != nil {
		report.Fail(fmt.Errorf("driver %s week %s: %w", driverID, weekStart.Format(models.DateLayout), err))
		s.report(err, map[string]string{"sweep": models.SweepWeeklyRestEvaluation, "organization_id": organizationID, "driver_id": driverID})
		return
	}
	report.Succeeded++
}

// previousWeekStart returns the Monday of the week before the one containing d.
func previousWeekStart(d time.Time) time.Time {
	d = models.DateOf(d)
	offset := (int(d.Weekday()) + 6) % 7
	return models.AddDays(d, -offset-7)
}
