package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/export"
	"github.com/noah-isme/fleet-compliance-api/pkg/ids"
	"github.com/noah-isme/fleet-compliance-api/pkg/storage"
)

// Renderer turns a dataset into a downloadable document.
type Renderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

type reportSource interface {
	OrganizationReport(ctx context.Context, scope models.Scope, asOf time.Time) (*models.ComplianceReport, error)
}

type exportStorage interface {
	Save(name string, data []byte) (string, error)
	Read(name string) ([]byte, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes stored exports.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders compliance reports as CSV, PDF or XLSX.
type ExportService struct {
	reports   reportSource
	storage   exportStorage
	signer    *storage.DownloadSigner
	renderers map[models.ExportFormat]Renderer
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService. Storage and signer are optional; without
// them only inline downloads are available.
func NewExportService(reports reportSource, store exportStorage, signer *storage.DownloadSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		reports: reports,
		storage: store,
		signer:  signer,
		renderers: map[models.ExportFormat]Renderer{
			models.ExportFormatCSV:  export.NewCSVExporter(),
			models.ExportFormatPDF:  export.NewPDFExporter(),
			models.ExportFormatXLSX: export.NewXLSXExporter(),
		},
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// RenderReport builds the organization report at asOf and renders it in format.
func (s *ExportService) RenderReport(ctx context.Context, scope models.Scope, asOf time.Time, format models.ExportFormat) (*models.RenderedExport, error) {
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, invalid(fmt.Sprintf("unsupported export format %q", format))
	}
	report, err := s.reports.OrganizationReport(ctx, scope, asOf)
	if err != nil {
		return nil, err
	}
	body, err := renderer.Render(reportDataset(report))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &models.RenderedExport{
		Filename:    fmt.Sprintf("compliance_%s_%s.%s", sanitizeFilename(scope.OrganizationID), report.AsOf.Format("20060102"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

// StoreReport renders the report, keeps it on disk and returns a signed download link.
func (s *ExportService) StoreReport(ctx context.Context, scope models.Scope, asOf time.Time, format models.ExportFormat) (*models.StoredExport, error) {
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrStorageUnavailable, "export storage is not configured")
	}
	rendered, err := s.RenderReport(ctx, scope, asOf, format)
	if err != nil {
		return nil, err
	}
	id := ids.NewUUID()
	name := fmt.Sprintf("%s/%s_%s", sanitizeFilename(scope.OrganizationID), id, rendered.Filename)
	if _, err := s.storage.Save(name, rendered.Body); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "failed to store export")
	}
	token, expiresAt, err := s.signer.Sign(id, scope.OrganizationID, name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("compliance export stored",
		zap.String("organization_id", scope.OrganizationID),
		zap.String("export_id", id),
		zap.String("format", string(format)),
	)
	return &models.StoredExport{
		ID:          id,
		Filename:    rendered.Filename,
		ContentType: rendered.ContentType,
		URL:         fmt.Sprintf("%s/exports/%s", prefix, token),
		ExpiresAt:   expiresAt,
	}, nil
}

// OpenStored resolves a download token to the stored file.
func (s *ExportService) OpenStored(token string) (*models.RenderedExport, error) {
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download link")
	}
	body, err := s.storage.Read(claims.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "failed to read export")
	}
	filename := claims.Path[strings.LastIndex(claims.Path, "/")+1:]
	if i := strings.Index(filename, "_"); i >= 0 {
		filename = filename[i+1:]
	}
	return &models.RenderedExport{
		Filename:    filename,
		ContentType: s.contentTypeFor(filename),
		Body:        body,
	}, nil
}

// CleanupExpired removes stored exports older than the configured TTL.
func (s *ExportService) CleanupExpired() (*models.SweepReport, error) {
	report := &models.SweepReport{Name: models.SweepExportCleanup, AsOf: models.DateOf(s.now()), StartedAt: s.now().UTC()}
	if s.storage == nil {
		report.FinishedAt = s.now().UTC()
		return report, nil
	}
	deleted, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		report.Fail(err)
		report.FinishedAt = s.now().UTC()
		return report, appErrors.WrapAs(err, appErrors.ErrStorageUnavailable, "export cleanup failed")
	}
	report.Processed = len(deleted)
	report.Succeeded = len(deleted)
	report.FinishedAt = s.now().UTC()
	return report, nil
}

func (s *ExportService) contentTypeFor(filename string) string {
	for _, r := range s.renderers {
		if strings.HasSuffix(filename, "."+r.Extension()) {
			return r.ContentType()
		}
	}
	return "application/octet-stream"
}

var reportHeaders = []string{
	"Driver ID", "Driver", "Overall", "Risk", "Violation", "License", "Training",
	"Points", "Open Infringements", "Rest Violations", "Assessed",
}

func reportDataset(report *models.ComplianceReport) export.Dataset {
	rows := make([]map[string]string, 0, len(report.Scores))
	for _, score := range report.Scores {
		rows = append(rows, map[string]string{
			"Driver ID":          score.DriverID,
			"Driver":             score.DriverName,
			"Overall":            strconv.Itoa(score.OverallScore),
			"Risk":               string(score.RiskLevel),
			"Violation":          strconv.Itoa(score.ViolationScore),
			"License":            strconv.Itoa(score.LicenseScore),
			"Training":           strconv.Itoa(score.TrainingScore),
			"Points":             strconv.Itoa(score.EffectivePoints),
			"Open Infringements": strconv.Itoa(score.ActiveInfringements),
			"Rest Violations":    strconv.Itoa(score.RestViolations),
			"Assessed":           score.LastAssessmentDate.Format(models.DateLayout),
		})
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Driver compliance report %s", report.AsOf.Format(models.DateLayout)),
		Headers: reportHeaders,
		Rows:    rows,
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
