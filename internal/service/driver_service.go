package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/internal/repository"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type driverStore interface {
	Create(ctx context.Context, driver *models.Driver) error
	GetByID(ctx context.Context, organizationID, id string) (*models.Driver, error)
	List(ctx context.Context, organizationID string, filter models.DriverFilter) ([]models.Driver, int, error)
	ListActive(ctx context.Context, organizationID string) ([]models.Driver, error)
	ListActiveRefs(ctx context.Context) ([]models.DriverRef, error)
	UpdateStatus(ctx context.Context, organizationID, id string, from, to models.DriverStatus) error
}

// DriverService manages the drivers subject to compliance tracking.
type DriverService struct {
	repo        driverStore
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
	invalidator ScoreInvalidator
}

// NewDriverService constructs the service.
func NewDriverService(repo driverStore, audit auditWriter, validate *validator.Validate, logger *zap.Logger, invalidator ScoreInvalidator) *DriverService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &DriverService{repo: repo, audit: audit, validator: validate, logger: logger, invalidator: invalidator}
}

// Create onboards a driver.
func (s *DriverService) Create(ctx context.Context, scope models.Scope, in models.CreateDriverInput) (*models.Driver, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	in.FullName = strings.TrimSpace(in.FullName)
	in.LicenseNumber = strings.ToUpper(strings.TrimSpace(in.LicenseNumber))
	if err := s.validator.Struct(in); err != nil {
		return nil, validationError(err)
	}
	driver := &models.Driver{
		OrganizationID: scope.OrganizationID,
		FullName:       in.FullName,
		LicenseNumber:  in.LicenseNumber,
		Status:         models.DriverStatusActive,
	}
	if in.LicenseExpiryDate != nil {
		d := models.DateOf(*in.LicenseExpiryDate)
		driver.LicenseExpiryDate = &d
	}
	if in.CPCExpiryDate != nil {
		d := models.DateOf(*in.CPCExpiryDate)
		driver.CPCExpiryDate = &d
	}
	if err := s.repo.Create(ctx, driver); err != nil {
		if repository.IsUniqueViolation(err, repository.DriverLicenseConstraint) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateRecord, fmt.Sprintf("licence %s already registered", in.LicenseNumber))
		}
		return nil, storeError(err, appErrors.ErrNotFound, "failed to create driver")
	}
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionDriverCreate, "driver", driver.ID, nil, driver)
	return driver, nil
}

// Get fetches one driver.
func (s *DriverService) Get(ctx context.Context, scope models.Scope, id string) (*models.Driver, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	driver, err := s.repo.GetByID(ctx, scope.OrganizationID, id)
	if err != nil {
		return nil, storeError(err, appErrors.Clone(appErrors.ErrNotFound, "driver not found"), "failed to load driver")
	}
	return driver, nil
}

// List returns drivers of the organization.
func (s *DriverService) List(ctx context.Context, scope models.Scope, filter models.DriverFilter) ([]models.Driver, *models.Pagination, error) {
	if err := requireScope(scope); err != nil {
		return nil, nil, err
	}
	drivers, total, err := s.repo.List(ctx, scope.OrganizationID, filter)
	if err != nil {
		return nil, nil, storeError(err, appErrors.ErrNotFound, "failed to list drivers")
	}
	return drivers, pagination(filter.Page, filter.PageSize, total), nil
}

// ListActive returns every active driver of the organization.
func (s *DriverService) ListActive(ctx context.Context, scope models.Scope) ([]models.Driver, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	drivers, err := s.repo.ListActive(ctx, scope.OrganizationID)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list active drivers")
	}
	return drivers, nil
}

// ActiveRefs lists active drivers across organizations for batch sweeps.
func (s *DriverService) ActiveRefs(ctx context.Context) ([]models.DriverRef, error) {
	refs, err := s.repo.ListActiveRefs(ctx)
	if err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to list active drivers")
	}
	return refs, nil
}

// Deactivate moves an active driver to inactive.
func (s *DriverService) Deactivate(ctx context.Context, scope models.Scope, id string) (*models.Driver, error) {
	return s.setStatus(ctx, scope, id, models.DriverStatusActive, models.DriverStatusInactive)
}

// Reactivate returns an inactive driver to active.
func (s *DriverService) Reactivate(ctx context.Context, scope models.Scope, id string) (*models.Driver, error) {
	return s.setStatus(ctx, scope, id, models.DriverStatusInactive, models.DriverStatusActive)
}

func (s *DriverService) setStatus(ctx context.Context, scope models.Scope, id string, from, to models.DriverStatus) (*models.Driver, error) {
	driver, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if driver.Status != from {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("driver is already %s", driver.Status))
	}
	if err := s.repo.UpdateStatus(ctx, scope.OrganizationID, id, from, to); err != nil {
		return nil, storeError(err, appErrors.ErrNotFound, "failed to update driver status")
	}
	before := *driver
	driver.Status = to
	s.invalidator.InvalidateDriver(ctx, scope.OrganizationID, id)
	emitAudit(ctx, s.audit, s.logger, scope, models.AuditActionDriverStatus, "driver", id, before, driver)
	return driver, nil
}
