package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/internal/repository"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

// validateAppealDecision rejects reductions on a rejected appeal and negative amounts.
func validateAppealDecision(sl validator.StructLevel) {
	d, ok := sl.Current().Interface().(models.AppealDecision)
	if !ok {
		return
	}
	if d.FineReduction.IsNegative() {
		sl.ReportError(d.FineReduction, "FineReduction", "fine_reduction", "appeal_decision", "")
	}
	if !d.Approve && (d.PointsReduction > 0 || !d.FineReduction.IsZero()) {
		sl.ReportError(d.PointsReduction, "PointsReduction", "points_reduction", "appeal_decision", "")
	}
}

// FileAppeal contests an active infringement. The appeal insert and the move to
// disputed commit together; a second open appeal is rejected.
func (s *InfringementService) FileAppeal(ctx context.Context, scope models.Scope, in models.FileAppealInput) (*models.Appeal, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	in.Grounds = strings.TrimSpace(in.Grounds)
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err)
	}
	inf, err := s.Get(ctx, scope, in.InfringementID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoOpenAppeal(ctx, scope, inf.ID); err != nil {
		return nil, err
	}
	if inf.Status != models.InfringementStatusActive || !inf.Status.CanTransition(models.InfringementStatusDisputed) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot appeal a %s infringement", inf.Status))
	}

	submitted := models.DateOf(s.now())
	if !in.SubmittedDate.IsZero() {
		submitted = models.DateOf(in.SubmittedDate)
	}
	appeal := &models.Appeal{
		OrganizationID:      scope.OrganizationID,
		InfringementID:      inf.ID,
		Grounds:             in.Grounds,
		SubmittedDate:       submitted,
		Status:              models.AppealStatusPending,
		FineReductionAmount: decimal.Zero,
	}
	transition := repository.InfringementTransition{
		OrganizationID:  scope.OrganizationID,
		ID:              inf.ID,
		From:            []models.InfringementStatus{models.InfringementStatusActive},
		To:              models.InfringementStatusDisputed,
		ExpectedVersion: inf.Version,
	}
	if err := s.appeals.File(ctx, appeal, transition); err != nil {
		if repository.IsUniqueViolation(err, repository.OpenAppealIndex) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateAppeal, "")
		}
		if errors.Is(err, repository.ErrStaleVersion) {
			if dupErr := s.ensureNoOpenAppeal(ctx, scope, inf.ID); dupErr != nil {
				return nil, dupErr
			}
		}
		return nil, storeError(err, appErrors.ErrNotFound, "failed to file appeal")
	}

	before := *inf
	inf.Status = models.InfringementStatusDisputed
	inf.Version++
	s.metrics.RecordTransition(string(before.Status), string(inf.Status))
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, inf.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionAppealFile, "appeal", appeal.ID, nil, appeal)
	return appeal, nil
}

func (s *InfringementService) ensureNoOpenAppeal(ctx context.Context, scope models.Scope, infringementID string) error {
	open, err := s.appeals.FindOpen(ctx, scope.OrganizationID, infringementID)
	switch {
	case err == nil && open != nil:
		return appErrors.Clone(appErrors.ErrDuplicateAppeal, fmt.Sprintf("appeal %s is still open", open.ID))
	case err != nil && !isNoRows(err):
		return storeError(err, appErrors.ErrNotFound, "failed to check open appeals")
	}
	return nil
}

// GetAppeal fetches one appeal.
func (s *InfringementService) GetAppeal(ctx context.Context, scope models.Scope, id string) (*models.Appeal, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	appeal, err := s.appeals.GetByID(ctx, scope.OrganizationID, id)
	if err != nil {
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "appeal not found"), "failed to load appeal")
	}
	return appeal, nil
}

// ListAppeals returns the appeals of an infringement, oldest first.
func (s *InfringementService) ListAppeals(ctx context.Context, scope models.Scope, infringementID string) ([]models.Appeal, error) {
	if _, err := s.Get(ctx, scope, infringementID); err != nil {
		return nil, err
	}
	appeals, err := s.appeals.ListByInfringement(ctx, scope.OrganizationID, infringementID)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list appeals")
	}
	return appeals, nil
}

// StartAppealReview moves a pending appeal under review.
func (s *InfringementService) StartAppealReview(ctx context.Context, scope models.Scope, id string, hearingDate *time.Time) (*models.Appeal, error) {
	appeal, err := s.GetAppeal(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if appeal.Status != models.AppealStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot review a %s appeal", appeal.Status))
	}
	if hearingDate != nil {
		hearing := models.DateOf(*hearingDate)
		if hearing.Before(appeal.SubmittedDate) {
			return nil, invalid("hearing date must not precede the submission")
		}
		hearingDate = &hearing
	}
	if err := s.appeals.StartReview(ctx, scope.OrganizationID, id, hearingDate); err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to start appeal review")
	}
	before := *appeal
	appeal.Status = models.AppealStatusUnderReview
	if hearingDate != nil {
		appeal.HearingDate = hearingDate
	}
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionAppealReview, "appeal", appeal.ID, before, appeal)
	return appeal, nil
}

// DecideAppeal records the ruling on an open appeal.
//
// Approval resolves the infringement, posting its penalty when not yet posted and an
// offsetting entry for any points reduction. Rejection returns the infringement to
// active with no ledger change.
func (s *InfringementService) DecideAppeal(ctx context.Context, scope models.Scope, id string, decision models.AppealDecision) (*models.Appeal, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	decision.Outcome = strings.TrimSpace(decision.Outcome)
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = s.now().UTC()
	}
	if err := s.validator.Struct(decision); err != nil {
		return nil, validationError(err)
	}
	appeal, err := s.GetAppeal(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if !appeal.Status.Open() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("appeal already %s", appeal.Status))
	}
	inf, err := s.Get(ctx, scope, appeal.InfringementID)
	if err != nil {
		return nil, err
	}
	if inf.Status != models.InfringementStatusDisputed {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("infringement is %s", inf.Status))
	}

	update := repository.AppealDecisionUpdate{
		OrganizationID:  scope.OrganizationID,
		ID:              appeal.ID,
		Status:          models.AppealStatusRejected,
		Outcome:         decision.Outcome,
		PointsReduction: 0,
		FineReduction:   decimal.Zero,
		DecidedBy:       scope.ActorID,
		DecidedAt:       decision.DecidedAt,
	}
	transition := repository.InfringementTransition{
		OrganizationID:  scope.OrganizationID,
		ID:              inf.ID,
		From:            []models.InfringementStatus{models.InfringementStatusDisputed},
		To:              models.InfringementStatusActive,
		ExpectedVersion: inf.Version,
	}
	var (
		entries       []*models.LedgerEntry
		ledgerVersion int64
	)

	if decision.Approve {
		if decision.PointsReduction > inf.PenaltyPoints {
			return nil, invalid(fmt.Sprintf("points reduction %d exceeds the penalty of %d", decision.PointsReduction, inf.PenaltyPoints))
		}
		if decision.FineReduction.GreaterThan(inf.FineAmount) {
			return nil, invalid("fine reduction exceeds the fine amount")
		}
		update.Status = models.AppealStatusApproved
		update.PointsReduction = decision.PointsReduction
		update.FineReduction = decision.FineReduction
		transition.To = models.InfringementStatusResolved
		fine := decision.FineReduction
		transition.FineReduction = &fine

		entries, ledgerVersion, err = s.planAppealEntries(ctx, scope, inf, appeal, decision)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Delta() > 0 && inf.PointsEntryID == nil {
				transition.PointsEntryID = &e.ID
			}
		}
	}

	if err := s.appeals.Decide(ctx, update, transition, entries, ledgerVersion); err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to decide appeal")
	}

	before := *appeal
	appeal.Status = update.Status
	appeal.Outcome = update.Outcome
	appeal.PointsReduction = update.PointsReduction
	appeal.FineReductionAmount = update.FineReduction
	decidedBy := scope.ActorID
	appeal.DecidedBy = &decidedBy
	decidedAt := update.DecidedAt
	appeal.DecidedAt = &decidedAt

	if len(entries) > 0 {
		s.metrics.RecordLedgerPosting("appeal", len(entries))
	}
	s.metrics.RecordTransition(string(inf.Status), string(transition.To))
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, inf.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionAppealDecide, "appeal", appeal.ID, before, appeal)
	s.logger.Info("appeal decided",
		zap.String("organization_id", scope.OrganizationID),
		zap.String("appeal_id", appeal.ID),
		zap.String("status", string(appeal.Status)),
		zap.Int("ledger_entries", len(entries)),
	)
	return appeal, nil
}

// planAppealEntries chains the penalty (when not yet posted) and the reduction offset.
// Both share one effective date so the offset expires together with the penalty.
func (s *InfringementService) planAppealEntries(ctx context.Context, scope models.Scope, inf *models.Infringement, appeal *models.Appeal, decision models.AppealDecision) ([]*models.LedgerEntry, int64, error) {
	postPenalty := inf.PointsEntryID == nil && inf.PenaltyPoints > 0
	if !postPenalty && decision.PointsReduction == 0 {
		return nil, 0, nil
	}
	decidedOn := models.DateOf(decision.DecidedAt)
	state, err := s.ledger.State(ctx, scope, inf.DriverID, decidedOn)
	if err != nil {
		return nil, 0, err
	}
	effective := laterDate(decidedOn, state.LastEffectiveDate)
	var inputs []models.PostEntryInput
	if postPenalty {
		inputs = append(inputs, models.PostEntryInput{
			DriverID:       inf.DriverID,
			Delta:          inf.PenaltyPoints,
			Reason:         fmt.Sprintf("penalty for infringement %s", inf.ID),
			EffectiveDate:  effective,
			InfringementID: &inf.ID,
		})
	}
	if decision.PointsReduction > 0 {
		inputs = append(inputs, models.PostEntryInput{
			DriverID:       inf.DriverID,
			Delta:          -decision.PointsReduction,
			Reason:         fmt.Sprintf("appeal %s reduction", appeal.ID),
			EffectiveDate:  effective,
			InfringementID: &inf.ID,
		})
	}
	entries, err := s.ledger.PlanEntries(scope, state, inputs...)
	if err != nil {
		return nil, 0, err
	}
	return entries, state.Version, nil
}

// WithdrawAppeal closes an open appeal at the appellant's request.
func (s *InfringementService) WithdrawAppeal(ctx context.Context, scope models.Scope, id string) (*models.Appeal, error) {
	appeal, err := s.GetAppeal(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if !appeal.Status.Open() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("appeal already %s", appeal.Status))
	}
	inf, err := s.Get(ctx, scope, appeal.InfringementID)
	if err != nil {
		return nil, err
	}
	transition := repository.InfringementTransition{
		OrganizationID:  scope.OrganizationID,
		ID:              inf.ID,
		From:            []models.InfringementStatus{models.InfringementStatusDisputed},
		To:              models.InfringementStatusActive,
		ExpectedVersion: inf.Version,
	}
	if err := s.appeals.Withdraw(ctx, scope.OrganizationID, appeal.ID, transition); err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to withdraw appeal")
	}

	before := *appeal
	appeal.Status = models.AppealStatusWithdrawn
	appeal.Outcome = "withdrawn by appellant"
	s.metrics.RecordTransition(string(inf.Status), string(models.InfringementStatusActive))
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, inf.DriverID)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionAppealWithdraw, "appeal", appeal.ID, before, appeal)
	return appeal, nil
}
