package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/internal/repository"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type infringementStore interface {
	CreateType(ctx context.Context, t *models.InfringementType) error
	GetType(ctx context.Context, organizationID, id string) (*models.InfringementType, error)
	ListTypes(ctx context.Context, organizationID string, activeOnly bool) ([]models.InfringementType, error)
	Create(ctx context.Context, inf *models.Infringement) error
	GetByID(ctx context.Context, organizationID, id string) (*models.Infringement, error)
	List(ctx context.Context, organizationID string, filter models.InfringementFilter) ([]models.Infringement, int, error)
	OpenAt(ctx context.Context, organizationID, driverID string, asOf time.Time) ([]models.Infringement, error)
	Transition(ctx context.Context, t repository.InfringementTransition) error
	ResolveWithLedger(ctx context.Context, t repository.InfringementTransition, entry *models.LedgerEntry, expectedLedgerVersion int64) error
	ExpiryCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.ExpiryCandidate, error)
	Expire(ctx context.Context, candidate models.ExpiryCandidate, asOf time.Time) (bool, error)
}

type appealStore interface {
	File(ctx context.Context, appeal *models.Appeal, t repository.InfringementTransition) error
	GetByID(ctx context.Context, organizationID, id string) (*models.Appeal, error)
	FindOpen(ctx context.Context, organizationID, infringementID string) (*models.Appeal, error)
	ListByInfringement(ctx context.Context, organizationID, infringementID string) ([]models.Appeal, error)
	StartReview(ctx context.Context, organizationID, id string, hearingDate *time.Time) error
	Decide(ctx context.Context, decision repository.AppealDecisionUpdate, t repository.InfringementTransition, entries []*models.LedgerEntry, expectedLedgerVersion int64) error
	Withdraw(ctx context.Context, organizationID, id string, t repository.InfringementTransition) error
}

// ledgerPlanner builds chained ledger entries that the infringement repositories append
// in the same transaction as the status change.
type ledgerPlanner interface {
	State(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.LedgerState, error)
	PlanEntries(scope models.Scope, state *models.LedgerState, inputs ...models.PostEntryInput) ([]*models.LedgerEntry, error)
}

// InfringementService runs the infringement and appeal lifecycle.
type InfringementService struct {
	repo        infringementStore
	appeals     appealStore
	ledger      ledgerPlanner
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
	invalidator ScoreInvalidator
	now         func() time.Time
}

// InfringementOption configures the infringement service.
type InfringementOption func(*InfringementService)

// WithInfringementMetrics attaches Prometheus instrumentation.
func WithInfringementMetrics(metrics *MetricsService) InfringementOption {
	return func(s *InfringementService) { s.metrics = metrics }
}

// WithInfringementInvalidator drops cached scores after lifecycle changes.
func WithInfringementInvalidator(inv ScoreInvalidator) InfringementOption {
	return func(s *InfringementService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// WithInfringementClock overrides the lifecycle clock.
func WithInfringementClock(now func() time.Time) InfringementOption {
	return func(s *InfringementService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInfringementService constructs the service.
func NewInfringementService(repo infringementStore, appeals appealStore, ledger ledgerPlanner, audit auditWriter, validate *validator.Validate, logger *zap.Logger, opts ...InfringementOption) *InfringementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &InfringementService{
		repo:        repo,
		appeals:     appeals,
		ledger:      ledger,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		invalidator: noopInvalidator{},
		now:         time.Now,
	}
	svc.validator.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return models.Severity(fl.Field().String()).Valid()
	})
	svc.validator.RegisterStructValidation(validateAppealDecision, models.AppealDecision{})
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateType adds an infringement type to the organization catalog.
func (s *InfringementService) CreateType(ctx context.Context, scope models.Scope, in models.CreateInfringementTypeInput) (*models.InfringementType, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if in.DefaultFineAmount.IsNegative() {
		return nil, invalid("default fine must not be negative")
	}
	t := &models.InfringementType{
		OrganizationID:     scope.OrganizationID,
		Code:               in.Code,
		Name:               in.Name,
		Severity:           in.Severity,
		DefaultPoints:      in.DefaultPoints,
		DefaultFineAmount:  in.DefaultFineAmount,
		StatutoryLimitDays: in.StatutoryLimitDays,
		Active:             true,
	}
	if err := s.repo.CreateType(ctx, t); err != nil {
		if repository.IsUniqueViolation(err, repository.InfringementTypeCodeConstraint) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateRecord, fmt.Sprintf("infringement type %s already exists", in.Code))
		}
		return nil, storeError(err, appErrors.ErrNotFound, "failed to create infringement type")
	}
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionInfringementTypeAdd, "infringement_type", t.ID, nil, t)
	return t, nil
}

// ListTypes returns the catalog.
func (s *InfringementService) ListTypes(ctx context.Context, scope models.Scope, activeOnly bool) ([]models.InfringementType, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	types, err := s.repo.ListTypes(ctx, scope.OrganizationID, activeOnly)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list infringement types")
	}
	return types, nil
}

// GetType fetches one catalog entry.
func (s *InfringementService) GetType(ctx context.Context, scope models.Scope, id string) (*models.InfringementType, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	t, err := s.repo.GetType(ctx, scope.OrganizationID, id)
	if err != nil {
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "infringement type not found"), "failed to load infringement type")
	}
	return t, nil
}

// Create records a pending infringement. Points and fine default from the catalog type.
// With Confirm and an IssueDate the record is activated in the same call.
func (s *InfringementService) Create(ctx context.Context, scope models.Scope, in models.CreateInfringementInput) (*models.Infringement, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err)
	}
	incident := models.DateOf(in.IncidentDate)
	if incident.After(models.DateOf(s.now())) {
		return nil, invalid("incident date must not be in the future")
	}
	t, err := s.GetType(ctx, scope, in.InfringementTypeID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, invalid(fmt.Sprintf("infringement type %s is inactive", t.Code))
	}

	inf := &models.Infringement{
		OrganizationID:     scope.OrganizationID,
		DriverID:           in.DriverID,
		VehicleID:          in.VehicleID,
		InfringementTypeID: t.ID,
		IncidentDate:       incident,
		Severity:           t.Severity,
		PenaltyPoints:      t.DefaultPoints,
		FineAmount:         t.DefaultFineAmount,
		Status:             models.InfringementStatusPending,
		SourceRef:          in.SourceRef,
		Notes:              strings.TrimSpace(in.Notes),
	}
	if in.PenaltyPoints != nil {
		inf.PenaltyPoints = *in.PenaltyPoints
	}
	if in.FineAmount != nil {
		if in.FineAmount.IsNegative() {
			return nil, invalid("fine amount must not be negative")
		}
		inf.FineAmount = *in.FineAmount
	}
	if in.Confirm {
		if in.IssueDate == nil {
			return nil, invalid("issue date is required to confirm an infringement")
		}
		issue, due, err := issueWindow(inf, t, *in.IssueDate)
		if err != nil {
			return nil, err
		}
		inf.Status = models.InfringementStatusActive
		inf.IssueDate = &issue
		inf.DueDate = &due
	}

	if err := s.repo.Create(ctx, inf); err != nil {
		if repository.IsUniqueViolation(err, repository.InfringementSourceRefIndex) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateRecord, "infringement already raised for this source")
		}
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "driver not found"), "failed to create infringement")
	}

	s.metrics.RecordTransition("new", string(inf.Status))
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, inf.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionInfringementCreate, "infringement", inf.ID, nil, inf)
	return inf, nil
}

func issueWindow(inf *models.Infringement, t *models.InfringementType, issueDate time.Time) (time.Time, time.Time, error) {
	issue := models.DateOf(issueDate)
	if issue.Before(inf.IncidentDate) {
		return time.Time{}, time.Time{}, invalid("issue date must not precede the incident date")
	}
	return issue, models.AddDays(issue, t.StatutoryLimitDays), nil
}

// Issue activates a pending infringement and starts its statutory window.
func (s *InfringementService) Issue(ctx context.Context, scope models.Scope, id string, issueDate time.Time) (*models.Infringement, error) {
	inf, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if inf.Status != models.InfringementStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot issue a %s infringement", inf.Status))
	}
	if issueDate.IsZero() {
		issueDate = s.now()
	}
	t, err := s.GetType(ctx, scope, inf.InfringementTypeID)
	if err != nil {
		return nil, err
	}
	issue, due, err := issueWindow(inf, t, issueDate)
	if err != nil {
		return nil, err
	}

	before := *inf
	transition := repository.InfringementTransition{
		OrganizationID:  scope.OrganizationID,
		ID:              inf.ID,
		From:            []models.InfringementStatus{models.InfringementStatusPending},
		To:              models.InfringementStatusActive,
		ExpectedVersion: inf.Version,
		IssueDate:       &issue,
		DueDate:         &due,
	}
	if err := s.repo.Transition(ctx, transition); err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to issue infringement")
	}
	inf.Status = models.InfringementStatusActive
	inf.IssueDate = &issue
	inf.DueDate = &due
	inf.Version++

	s.afterTransition(ctx, scope, models.AuditActionInfringementIssue, &before, inf)
	return inf, nil
}

// Resolve closes an active infringement by payment or serving and posts its penalty
// points exactly once. The status change and the ledger append commit together.
func (s *InfringementService) Resolve(ctx context.Context, scope models.Scope, id string, paymentDate *time.Time) (*models.Infringement, error) {
	inf, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if inf.Status == models.InfringementStatusResolved {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, fmt.Sprintf("infringement %s already resolved", inf.ID))
	}
	if inf.Status != models.InfringementStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot resolve a %s infringement", inf.Status))
	}

	resolvedOn := models.DateOf(s.now())
	if paymentDate != nil {
		resolvedOn = models.DateOf(*paymentDate)
		paymentDate = &resolvedOn
	}

	transition := repository.InfringementTransition{
		OrganizationID:  scope.OrganizationID,
		ID:              inf.ID,
		From:            []models.InfringementStatus{models.InfringementStatusActive},
		To:              models.InfringementStatusResolved,
		ExpectedVersion: inf.Version,
		PaymentDate:     paymentDate,
	}
	var (
		penalty       *models.LedgerEntry
		ledgerVersion int64
	)
	if inf.PointsEntryID == nil && inf.PenaltyPoints > 0 {
		state, err := s.ledger.State(ctx, scope, inf.DriverID, resolvedOn)
		if err != nil {
			return nil, err
		}
		entries, err := s.ledger.PlanEntries(scope, state, models.PostEntryInput{
			DriverID:       inf.DriverID,
			Delta:          inf.PenaltyPoints,
			Reason:         fmt.Sprintf("penalty for infringement %s", inf.ID),
			EffectiveDate:  laterDate(resolvedOn, state.LastEffectiveDate),
			InfringementID: &inf.ID,
		})
		if err != nil {
			return nil, err
		}
		penalty = entries[0]
		ledgerVersion = state.Version
		transition.PointsEntryID = &penalty.ID
	}

	if err := s.repo.ResolveWithLedger(ctx, transition, penalty, ledgerVersion); err != nil {
		if errors.Is(err, repository.ErrStaleVersion) {
			return nil, s.staleResolution(ctx, scope, inf.ID, err)
		}
		return nil, storeError(err, appErrors.ErrNotFound, "failed to resolve infringement")
	}

	before := *inf
	inf.Status = models.InfringementStatusResolved
	inf.PaymentDate = paymentDate
	inf.Version++
	if penalty != nil {
		inf.PointsEntryID = &penalty.ID
		s.metrics.RecordLedgerPosting("penalty", 1)
	}
	s.afterTransition(ctx, scope, models.AuditActionInfringementResolve, &before, inf)
	return inf, nil
}

// staleResolution tells a lost race against another resolution apart from any other
// concurrent change.
func (s *InfringementService) staleResolution(ctx context.Context, scope models.Scope, id string, cause error) error {
	current, err := s.repo.GetByID(ctx, scope.OrganizationID, id)
	if err == nil && current.Status == models.InfringementStatusResolved {
		return appErrors.Clone(appErrors.ErrAlreadyResolved, fmt.Sprintf("infringement %s already resolved", id))
	}
	return appErrors.WrapAs(cause, appErrors.ErrConcurrency, "")
}

// Get fetches one infringement.
func (s *InfringementService) Get(ctx context.Context, scope models.Scope, id string) (*models.Infringement, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	inf, err := s.repo.GetByID(ctx, scope.OrganizationID, id)
	if err != nil {
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "infringement not found"), "failed to load infringement")
	}
	if err := requireOwner(scope, inf.DriverID); err != nil {
		return nil, err
	}
	return inf, nil
}

// List returns infringements matching the filter.
func (s *InfringementService) List(ctx context.Context, scope models.Scope, filter models.InfringementFilter) ([]models.Infringement, *models.Pagination, error) {
	if err := requireScope(scope); err != nil {
		return nil, nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, invalid("date range is inverted")
	}
	if scope.Role == models.RoleDriver {
		filter.DriverID = scope.ActorID
	}
	list, total, err := s.repo.List(ctx, scope.OrganizationID, filter)
	if err != nil {
		return nil, nil, storeError(err, appErrors.ErrNotFound, "failed to list infringements")
	}
	return list, pagination(filter.Page, filter.PageSize, total), nil
}

// OpenForDriver lists every infringement of a driver that was in force on asOf,
// reconstructed from issue, due and resolution dates rather than the current status.
func (s *InfringementService) OpenForDriver(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) ([]models.Infringement, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if err := requireOwner(scope, driverID); err != nil {
		return nil, err
	}
	list, err := s.repo.OpenAt(ctx, scope.OrganizationID, driverID, asOf)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list open infringements")
	}
	return list, nil
}

// ExpireInfringements moves active and disputed infringements past their due date to
// expired. Open appeals lapse with them. No ledger effect; safe to re-run.
func (s *InfringementService) ExpireInfringements(ctx context.Context, asOf time.Time) (*models.SweepReport, error) {
	report := &models.SweepReport{Name: models.SweepInfringementExpiry, AsOf: models.DateOf(asOf), StartedAt: s.now().UTC()}
	failed := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return report, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "infringement expiry interrupted")
		}
		candidates, err := s.repo.ExpiryCandidates(ctx, asOf, expiryBatchSize)
		if err != nil {
			return report, storeError(err, appErrors.ErrNotFound, "failed to list expiring infringements")
		}
		progressed := false
		for _, candidate := range candidates {
			if failed[candidate.ID] {
				continue
			}
			report.Processed++
			expired, err := s.repo.Expire(ctx, candidate, asOf)
			if err != nil {
				failed[candidate.ID] = true
				report.Fail(fmt.Errorf("infringement %s: %w", candidate.ID, err))
				s.logger.Warn("infringement expiry failed",
					zap.String("infringement_id", candidate.ID),
					zap.String("organization_id", candidate.OrganizationID),
					zap.Error(err),
				)
				continue
			}
			report.Succeeded++
			if expired {
				progressed = true
				s.metrics.RecordTransition("overdue", string(models.InfringementStatusExpired))
				s.invalidator.InvalidateDriver(ctx, candidate.OrganizationID, candidate.DriverID)
			}
		}
		if !progressed || len(candidates) < expiryBatchSize {
			break
		}
	}
	report.FinishedAt = s.now().UTC()
	return report, nil
}

// RaiseFromRestViolations creates pending infringements for rest violations whose code
// matches an active catalog type. Each violation carries a stable source reference so
// repeated sweeps over the same week raise nothing new.
func (s *InfringementService) RaiseFromRestViolations(ctx context.Context, scope models.Scope, driverID string, weekStart time.Time, violations []models.RestFinding) ([]models.Infringement, error) {
	if len(violations) == 0 {
		return nil, nil
	}
	types, err := s.ListTypes(ctx, scope, true)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]models.InfringementType, len(types))
	for _, t := range types {
		byCode[t.Code] = t
	}

	weekStart = models.DateOf(weekStart)
	raised := make([]models.Infringement, 0, len(violations))
	for _, v := range violations {
		t, ok := byCode[v.InfringementCode]
		if !ok {
			continue
		}
		incident := models.AddDays(weekStart, 6)
		if v.Date != nil {
			incident = models.DateOf(*v.Date)
		}
		ref := fmt.Sprintf("rest:%s:%s:%s:%s", driverID, weekStart.Format(models.DateLayout), v.Code, incident.Format(models.DateLayout))
		inf, err := s.Create(ctx, scope, models.CreateInfringementInput{
			DriverID:           driverID,
			InfringementTypeID: t.ID,
			IncidentDate:       incident,
			Notes:              v.Message,
			SourceRef:          &ref,
		})
		if err != nil {
			if errors.Is(err, appErrors.ErrDuplicateRecord) {
				continue
			}
			return raised, err
		}
		raised = append(raised, *inf)
	}
	return raised, nil
}

func (s *InfringementService) afterTransition(ctx context.Context, scope models.Scope, action string, before, after *models.Infringement) {
	s.metrics.RecordTransition(string(before.Status), string(after.Status))
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, after.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, action, "infringement", after.ID, before, after)
	s.logger.Info("infringement transitioned",
		zap.String("organization_id", scope.OrganizationID),
		zap.String("infringement_id", after.ID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
	)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
