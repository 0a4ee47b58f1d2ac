package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
	"github.com/noah-isme/fleet-compliance-api/pkg/storage"
)

type reportSourceStub struct {
	report *models.ComplianceReport
}

func (s reportSourceStub) OrganizationReport(_ context.Context, scope models.Scope, asOf time.Time) (*models.ComplianceReport, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	r := *s.report
	r.AsOf = models.DateOf(asOf)
	return &r, nil
}

func sampleReport() *models.ComplianceReport {
	return &models.ComplianceReport{
		OrganizationID: testOrg,
		Scores: []models.ComplianceScore{
			{DriverID: "drv-2", DriverName: "Dana Reyes", OverallScore: 64, RiskLevel: models.RiskCritical, ViolationScore: 40, LicenseScore: 100, TrainingScore: 100, EffectivePoints: 12, LastAssessmentDate: day("2024-03-01")},
			{DriverID: "drv-1", DriverName: "Alex Moor", OverallScore: 100, RiskLevel: models.RiskLow, ViolationScore: 100, LicenseScore: 100, TrainingScore: 100, LastAssessmentDate: day("2024-03-01")},
		},
	}
}

func newTestExportService(t *testing.T, withStorage bool) *ExportService {
	t.Helper()
	if !withStorage {
		return NewExportService(reportSourceStub{report: sampleReport()}, nil, nil, ExportConfig{}, nil)
	}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewDownloadSigner("secret", time.Hour)
	return NewExportService(reportSourceStub{report: sampleReport()}, store, signer, ExportConfig{APIPrefix: "/api/v1"}, nil)
}

func TestRenderReportCSV(t *testing.T) {
	svc := newTestExportService(t, false)

	out, err := svc.RenderReport(context.Background(), testScope, day("2024-03-01"), models.ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", out.ContentType)
	assert.Equal(t, "compliance_"+testOrg+"_20240301.csv", out.Filename)

	records, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, reportHeaders, records[0])
	assert.Equal(t, "drv-2", records[1][0])
	assert.Equal(t, "critical", records[1][3])
}

func TestRenderReportBinaryFormats(t *testing.T) {
	svc := newTestExportService(t, false)

	pdf, err := svc.RenderReport(context.Background(), testScope, day("2024-03-01"), models.ExportFormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Body, []byte("%PDF")))

	xlsx, err := svc.RenderReport(context.Background(), testScope, day("2024-03-01"), models.ExportFormatXLSX)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(xlsx.Body, []byte("PK")))
	assert.True(t, strings.HasSuffix(xlsx.Filename, ".xlsx"))
}

func TestRenderReportRejectsUnknownFormat(t *testing.T) {
	svc := newTestExportService(t, false)

	_, err := svc.RenderReport(context.Background(), testScope, day("2024-03-01"), models.ExportFormat("docx"))
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestStoreReportAndDownload(t *testing.T) {
	svc := newTestExportService(t, true)

	stored, err := svc.StoreReport(context.Background(), testScope, day("2024-03-01"), models.ExportFormatCSV)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stored.URL, "/api/v1/exports/"))

	token := strings.TrimPrefix(stored.URL, "/api/v1/exports/")
	file, err := svc.OpenStored(token)
	require.NoError(t, err)
	assert.Equal(t, stored.Filename, file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Contains(t, string(file.Body), "Dana Reyes")

	_, err = svc.OpenStored("not-a-token")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestStoreReportWithoutStorage(t *testing.T) {
	svc := newTestExportService(t, false)

	_, err := svc.StoreReport(context.Background(), testScope, day("2024-03-01"), models.ExportFormatCSV)
	require.ErrorIs(t, err, appErrors.ErrStorageUnavailable)

	report, err := svc.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
}
