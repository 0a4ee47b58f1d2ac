package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/pkg/config"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/ids"
)

type ledgerStore interface {
	State(ctx context.Context, organizationID, driverID string, asOf time.Time) (*models.LedgerState, error)
	Append(ctx context.Context, entry *models.LedgerEntry, expectedVersion int64) error
	Reverse(ctx context.Context, original, offset *models.LedgerEntry, expectedVersion int64) error
	GetByID(ctx context.Context, organizationID, id string) (*models.LedgerEntry, error)
	List(ctx context.Context, organizationID string, filter models.LedgerFilter) ([]models.LedgerEntry, int, error)
	ExpiryCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.ExpiryCandidate, error)
	Expire(ctx context.Context, candidate models.ExpiryCandidate, asOf time.Time) (bool, error)
}

const expiryBatchSize = 500

// LedgerService owns the driver points ledger.
type LedgerService struct {
	repo        ledgerStore
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
	policy      config.LedgerConfig
	metrics     *MetricsService
	invalidator ScoreInvalidator
	now         func() time.Time
}

// LedgerOption configures the ledger service.
type LedgerOption func(*LedgerService)

// WithLedgerMetrics attaches Prometheus instrumentation.
func WithLedgerMetrics(metrics *MetricsService) LedgerOption {
	return func(s *LedgerService) { s.metrics = metrics }
}

// WithLedgerInvalidator drops cached scores after postings.
func WithLedgerInvalidator(inv ScoreInvalidator) LedgerOption {
	return func(s *LedgerService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// WithLedgerClock overrides the clock used for created_at and system dates.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(s *LedgerService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewLedgerService constructs the service.
func NewLedgerService(repo ledgerStore, audit auditWriter, validate *validator.Validate, logger *zap.Logger, policy config.LedgerConfig, opts ...LedgerOption) *LedgerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.PointsValidity <= 0 {
		policy.PointsValidity = 3 * 365 * 24 * time.Hour
	}
	svc := &LedgerService{
		repo:        repo,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		policy:      policy,
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

// State reads the posting snapshot of a driver's ledger at asOf.
func (s *LedgerService) State(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.LedgerState, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	state, err := s.repo.State(ctx, scope.OrganizationID, driverID, asOf)
	if err != nil {
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "driver not found"), "failed to read ledger state")
	}
	return state, nil
}

// PlanEntries builds the chained entries for the given postings against state without
// persisting them. Each posting is checked against the balance floor in order.
func (s *LedgerService) PlanEntries(scope models.Scope, state *models.LedgerState, inputs ...models.PostEntryInput) ([]*models.LedgerEntry, error) {
	if state == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "ledger state missing")
	}
	chain := state.ChainBalance
	effective := s.floored(state.EffectiveBalance)
	last := state.LastEffectiveDate
	penaltyExpiry := state.PenaltyExpiry
	now := s.now().UTC()

	entries := make([]*models.LedgerEntry, 0, len(inputs))
	for _, in := range inputs {
		if err := s.validator.Struct(in); err != nil {
			if in.Delta == 0 {
				return nil, invalid("points delta must not be zero")
			}
			return nil, validationError(err)
		}
		effDate := models.DateOf(in.EffectiveDate)
		if last != nil && effDate.Before(models.DateOf(*last)) {
			return nil, invalid(fmt.Sprintf("effective date %s precedes the latest ledger entry (%s)",
				effDate.Format(models.DateLayout), last.Format(models.DateLayout)))
		}
		if !s.policy.AllowNegative && effective+in.Delta < s.policy.Floor {
			return nil, appErrors.Clone(appErrors.ErrInvalidDelta,
				fmt.Sprintf("posting %+d to balance %d would fall below the floor of %d", in.Delta, effective, s.policy.Floor))
		}

		entry := &models.LedgerEntry{
			ID:             ids.NewULID(now),
			OrganizationID: scope.OrganizationID,
			DriverID:       in.DriverID,
			BalanceBefore:  chain,
			BalanceAfter:   chain + in.Delta,
			Reason:         strings.TrimSpace(in.Reason),
			EffectiveDate:  effDate,
			InfringementID: in.InfringementID,
			Status:         models.EntryStatusActive,
			CreatedBy:      scope.ActorID,
			CreatedAt:      now,
		}
		if in.Delta > 0 {
			entry.PointsAdded = in.Delta
		} else {
			entry.PointsRemoved = -in.Delta
		}
		if in.ExpiryDate != nil {
			expiry := models.DateOf(*in.ExpiryDate)
			if !expiry.After(effDate) {
				return nil, invalid("expiry date must be after the effective date")
			}
			entry.ExpiryDate = &expiry
		} else {
			expiry := effDate.Add(s.policy.PointsValidity)
			expiry = models.DateOf(expiry)
			entry.ExpiryDate = &expiry
		}
		// A credit lapses no later than the points it offsets.
		if in.Delta < 0 && penaltyExpiry != nil && penaltyExpiry.After(effDate) && penaltyExpiry.Before(*entry.ExpiryDate) {
			capped := *penaltyExpiry
			entry.ExpiryDate = &capped
		}
		if in.Delta > 0 && (penaltyExpiry == nil || entry.ExpiryDate.After(*penaltyExpiry)) {
			penaltyExpiry = entry.ExpiryDate
		}

		entries = append(entries, entry)
		chain = entry.BalanceAfter
		effective += in.Delta
		last = &effDate
	}
	return entries, nil
}

// PostEntry appends one ledger entry after checking the balance floor.
func (s *LedgerService) PostEntry(ctx context.Context, scope models.Scope, in models.PostEntryInput) (*models.LedgerEntry, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	if in.EffectiveDate.IsZero() {
		in.EffectiveDate = s.now()
	}
	state, err := s.State(ctx, scope, in.DriverID, in.EffectiveDate)
	if err != nil {
		return nil, err
	}
	entries, err := s.PlanEntries(scope, state, in)
	if err != nil {
		return nil, err
	}
	entry := entries[0]
	if err := s.repo.Append(ctx, entry, state.Version); err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to append ledger entry")
	}

	s.metrics.RecordLedgerPosting("manual", 1)
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, entry.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionPointsPost, "points_ledger_entry", entry.ID, nil, entry)
	s.logger.Info("ledger entry posted",
		zap.String("organization_id", scope.OrganizationID),
		zap.String("driver_id", entry.DriverID),
		zap.String("entry_id", entry.ID),
		zap.Int("delta", entry.Delta()),
		zap.Int("balance_after", entry.BalanceAfter),
	)
	return entry, nil
}

// ReverseEntry voids an active entry by appending its offset. Both entries leave the
// effective balance while the chain stays continuous.
func (s *LedgerService) ReverseEntry(ctx context.Context, scope models.Scope, entryID, reason string) (*models.LedgerEntry, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason is required")
	}
	original, err := s.repo.GetByID(ctx, scope.OrganizationID, entryID)
	if err != nil {
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "ledger entry not found"), "failed to load ledger entry")
	}
	if original.ReversesEntryID != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "a reversal entry cannot itself be reversed")
	}
	if original.Status != models.EntryStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("ledger entry is %s", original.Status))
	}

	today := models.DateOf(s.now())
	state, err := s.State(ctx, scope, original.DriverID, today)
	if err != nil {
		return nil, err
	}
	if !s.policy.AllowNegative && original.CountsAt(today) && s.floored(state.EffectiveBalance)-original.Delta() < s.policy.Floor {
		return nil, appErrors.Clone(appErrors.ErrInvalidDelta, "reversal would fall below the balance floor")
	}

	effDate := laterDate(today, state.LastEffectiveDate)
	now := s.now().UTC()
	offset := &models.LedgerEntry{
		ID:              ids.NewULID(now),
		OrganizationID:  scope.OrganizationID,
		DriverID:        original.DriverID,
		BalanceBefore:   state.ChainBalance,
		BalanceAfter:    state.ChainBalance - original.Delta(),
		Reason:          reason,
		EffectiveDate:   effDate,
		InfringementID:  original.InfringementID,
		ReversesEntryID: &original.ID,
		Status:          models.EntryStatusReversed,
		CreatedBy:       scope.ActorID,
		CreatedAt:       now,
	}
	if d := original.Delta(); d > 0 {
		offset.PointsRemoved = d
	} else {
		offset.PointsAdded = -d
	}

	if err := s.repo.Reverse(ctx, original, offset, state.Version); err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to reverse ledger entry")
	}
	original.Status = models.EntryStatusReversed

	s.metrics.RecordLedgerPosting("reversal", 1)
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, original.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionPointsReverse, "points_ledger_entry", original.ID, original, offset)
	return offset, nil
}

// EffectiveBalance sums the active entries counting at asOf.
func (s *LedgerService) EffectiveBalance(ctx context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.PointsBalance, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	state, err := s.State(ctx, scope, driverID, asOf)
	if err != nil {
		return nil, err
	}
	return &models.PointsBalance{
		DriverID:         driverID,
		AsOf:             models.DateOf(asOf),
		EffectiveBalance: s.floored(state.EffectiveBalance),
		ChainBalance:     state.ChainBalance,
		LedgerVersion:    state.Version,
	}, nil
}

// floored keeps a balance at or above the floor unless negative balances are allowed.
// Credits outliving the points they offset would otherwise push it below.
func (s *LedgerService) floored(balance int) int {
	if !s.policy.AllowNegative && balance < s.policy.Floor {
		return s.policy.Floor
	}
	return balance
}

// ListEntries returns a driver's ledger in chain order.
func (s *LedgerService) ListEntries(ctx context.Context, scope models.Scope, filter models.LedgerFilter) ([]models.LedgerEntry, *models.Pagination, error) {
	if err := requireScope(scope); err != nil {
		return nil, nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, invalid("date range is inverted")
	}
	entries, total, err := s.repo.List(ctx, scope.OrganizationID, filter)
	if err != nil {
		return nil, nil, storeError(err, appErrors.ErrNotFound, "failed to list ledger entries")
	}
	return entries, pagination(filter.Page, filter.PageSize, total), nil
}

// ExpireEntries marks entries past their expiry date as expired. Per-entry failures are
// logged and counted; the sweep continues.
func (s *LedgerService) ExpireEntries(ctx context.Context, asOf time.Time) (*models.SweepReport, error) {
	report := &models.SweepReport{Name: models.SweepLedgerExpiry, AsOf: models.DateOf(asOf), StartedAt: s.now().UTC()}
	failed := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return report, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "ledger expiry interrupted")
		}
		candidates, err := s.repo.ExpiryCandidates(ctx, asOf, expiryBatchSize)
		if err != nil {
			return report, storeError(err, appErrors.ErrNotFound, "failed to list expiring entries")
		}
		progressed := false
		touched := make(map[string]models.ExpiryCandidate)
		for _, candidate := range candidates {
			if failed[candidate.ID] {
				continue
			}
			report.Processed++
			expired, err := s.repo.Expire(ctx, candidate, asOf)
			if err != nil {
				failed[candidate.ID] = true
				report.Fail(fmt.Errorf("entry %s: %w", candidate.ID, err))
				s.logger.Warn("ledger entry expiry failed",
					zap.String("entry_id", candidate.ID),
					zap.String("organization_id", candidate.OrganizationID),
					zap.Error(err),
				)
				continue
			}
			report.Succeeded++
			if expired {
				progressed = true
				touched[candidate.OrganizationID+"/"+candidate.DriverID] = candidate
			}
		}
		for _, c := range touched {
			s.invalidator.InvalidateDriver(ctx, c.OrganizationID, c.DriverID)
		}
		if !progressed || len(candidates) < expiryBatchSize {
			break
		}
	}
	report.FinishedAt = s.now().UTC()
	return report, nil
}
