package service

import (
	"context"
	"database/sql"
	"encoding/json"
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

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// ScoreInvalidator drops cached compliance scores after a write touching a driver.
type ScoreInvalidator interface {
	InvalidateDriver(ctx context.Context, organizationID, driverID string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateDriver(context.Context, string, string) {}

func requireScope(scope models.Scope) error {
	if strings.TrimSpace(scope.OrganizationID) == "" {
		return appErrors.Clone(appErrors.ErrUnauthorized, "organization scope is required")
	}
	return nil
}

// requireOwner keeps DRIVER callers on their own records.
func requireOwner(scope models.Scope, driverID string) error {
	if scope.Role == models.RoleDriver && scope.ActorID != driverID {
		return appErrors.Clone(appErrors.ErrForbidden, "drivers may only access their own records")
	}
	return nil
}

// storeError maps repository failures onto typed domain errors.
func storeError(err error, notFound *appErrors.Error, message string) error {
	var appErr *appErrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(notFound, "")
	case errors.Is(err, repository.ErrStaleVersion):
		return appErrors.WrapAs(err, appErrors.ErrConcurrency, "")
	case repository.IsUniqueViolation(err):
		return appErrors.WrapAs(err, appErrors.ErrDuplicateRecord, "")
	case repository.IsForeignKeyViolation(err):
		return appErrors.WrapAs(err, notFound, "referenced record not found")
	default:
		return appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, message)
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, strings.Join(parts, "; "))
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}

func invalid(message string) error {
	return appErrors.Clone(appErrors.ErrValidation, message)
}

func emitAudit(ctx context.Context, audit auditWriter, logger *zap.Logger, scope models.Scope, action, resource, resourceID string, oldValues, newValues interface{}) {
	if audit == nil {
		return
	}
	log := &models.AuditLog{
		OrganizationID: scope.OrganizationID,
		Action:         action,
		Resource:       resource,
	}
	if scope.ActorID != "" {
		actor := scope.ActorID
		log.UserID = &actor
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	if oldValues != nil {
		log.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		log.NewValues, _ = json.Marshal(newValues)
	}
	if meta, ok := requestMetaFrom(ctx); ok {
		log.IPAddress = meta.IP
		log.UserAgent = meta.UserAgent
	}
	if err := audit.Create(ctx, log); err != nil && logger != nil {
		logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// RequestMeta describes the caller for audit records.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta attaches caller metadata used by audit records.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}

func laterDate(a time.Time, b *time.Time) time.Time {
	if b != nil && b.After(a) {
		return models.DateOf(*b)
	}
	return models.DateOf(a)
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func pagination(page, size, total int) *models.Pagination {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
