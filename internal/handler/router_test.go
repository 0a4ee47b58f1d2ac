package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
	appErrors "github.com/noah-isme/fleet-compliance-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (t tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

var testTokens = tokenStub{
	"admin":   {UserID: "u-admin", OrganizationID: "org-1", Role: models.RoleAdmin},
	"manager": {UserID: "u-manager", OrganizationID: "org-1", Role: models.RoleFleetManager},
	"driver":  {UserID: "drv-1", OrganizationID: "org-1", Role: models.RoleDriver},
	"system":  {UserID: "scheduler", OrganizationID: "org-1", Role: models.RoleSystem},
}

type driverServiceStub struct {
	lastScope models.Scope
}

func (s *driverServiceStub) Create(_ context.Context, scope models.Scope, in models.CreateDriverInput) (*models.Driver, error) {
	s.lastScope = scope
	return &models.Driver{ID: "drv-1", OrganizationID: scope.OrganizationID, FullName: in.FullName, Status: models.DriverStatusActive}, nil
}

func (s *driverServiceStub) Get(_ context.Context, scope models.Scope, id string) (*models.Driver, error) {
	if id == "missing" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "driver not found")
	}
	return &models.Driver{ID: id, OrganizationID: scope.OrganizationID}, nil
}

func (s *driverServiceStub) List(_ context.Context, _ models.Scope, filter models.DriverFilter) ([]models.Driver, *models.Pagination, error) {
	return []models.Driver{{ID: "drv-1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (s *driverServiceStub) Deactivate(_ context.Context, _ models.Scope, id string) (*models.Driver, error) {
	return &models.Driver{ID: id, Status: models.DriverStatusInactive}, nil
}

func (s *driverServiceStub) Reactivate(_ context.Context, _ models.Scope, id string) (*models.Driver, error) {
	return &models.Driver{ID: id, Status: models.DriverStatusActive}, nil
}

type complianceServiceStub struct {
	asOf time.Time
	err  error
}

func (s *complianceServiceStub) ComputeScore(_ context.Context, scope models.Scope, driverID string, asOf time.Time) (*models.ComplianceScore, error) {
	s.asOf = asOf
	if s.err != nil {
		return nil, s.err
	}
	return &models.ComplianceScore{DriverID: driverID, OrganizationID: scope.OrganizationID, OverallScore: 91, RiskLevel: models.RiskLow}, nil
}

func (s *complianceServiceStub) OrganizationReport(_ context.Context, scope models.Scope, asOf time.Time) (*models.ComplianceReport, error) {
	return &models.ComplianceReport{OrganizationID: scope.OrganizationID}, nil
}

type exportServiceStub struct{}

func (exportServiceStub) RenderReport(_ context.Context, _ models.Scope, _ time.Time, format models.ExportFormat) (*models.RenderedExport, error) {
	if format != models.ExportFormatCSV {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	return &models.RenderedExport{Filename: "compliance_org-1_20240301.csv", ContentType: "text/csv", Body: []byte("Driver ID\n")}, nil
}

func (exportServiceStub) StoreReport(_ context.Context, _ models.Scope, _ time.Time, _ models.ExportFormat) (*models.StoredExport, error) {
	return &models.StoredExport{ID: "exp-1", URL: "/api/v1/exports/token-1"}, nil
}

func (exportServiceStub) OpenStored(token string) (*models.RenderedExport, error) {
	if token != "token-1" {
		return nil, appErrors.ErrForbidden
	}
	return &models.RenderedExport{Filename: "report.csv", ContentType: "text/csv", Body: []byte("ok")}, nil
}

type sweepServiceStub struct {
	ran      []models.SweepRequest
	enqueued []models.SweepRequest
}

func (s *sweepServiceStub) Run(_ context.Context, req models.SweepRequest) (*models.SweepReport, error) {
	s.ran = append(s.ran, req)
	return &models.SweepReport{Name: req.Name, Processed: 2, Succeeded: 2}, nil
}

func (s *sweepServiceStub) Enqueue(req models.SweepRequest) (*models.SweepJob, error) {
	s.enqueued = append(s.enqueued, req)
	return &models.SweepJob{ID: "job-1", Request: req}, nil
}

type auditServiceStub struct{}

func (auditServiceStub) Trail(_ context.Context, scope models.Scope, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	if limit > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "limit too large")
	}
	return []models.AuditLog{{ID: "a-1", OrganizationID: scope.OrganizationID, Resource: resource, Action: models.AuditActionDriverCreate}}, nil
}

type testRouter struct {
	engine      *gin.Engine
	drivers     *driverServiceStub
	compliance  *complianceServiceStub
	sweeps      *sweepServiceStub
	reported    []error
	readinessOK bool
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tr := &testRouter{
		drivers:     &driverServiceStub{},
		compliance:  &complianceServiceStub{},
		sweeps:      &sweepServiceStub{},
		readinessOK: true,
	}
	checks := map[string]Pinger{
		"postgres": func(context.Context) error {
			if tr.readinessOK {
				return nil
			}
			return errors.New("connection refused")
		},
	}
	tr.engine = NewRouter(RouterConfig{
		APIPrefix: "/api/v1",
		Tokens:    testTokens,
		Reporter: func(err error, _ ...map[string]string) {
			tr.reported = append(tr.reported, err)
		},
		Drivers:       NewDriverHandler(tr.drivers),
		Compliance:    NewComplianceHandler(tr.compliance, exportServiceStub{}),
		Sweeps:        NewSweepHandler(tr.sweeps),
		Audit:         NewAuditHandler(auditServiceStub{}),
		Observability: NewMetricsHandler(nil, checks),
	})
	return tr
}

func (tr *testRouter) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	tr.engine.ServeHTTP(w, req)
	return w
}

func TestRouterRequiresToken(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.do(http.MethodGet, "/api/v1/drivers", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = tr.do(http.MethodGet, "/api/v1/drivers", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRouterDriverRoutes(t *testing.T) {
	tr := newTestRouter(t)

	t.Run("create carries token scope", func(t *testing.T) {
		payload := `{"full_name":"Ana Silva","license_number":"LIC-1"}`
		resp := tr.do(http.MethodPost, "/api/v1/drivers", "manager", payload)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		assert.Contains(t, resp.Body.String(), `"full_name":"Ana Silva"`)
		assert.Equal(t, "org-1", tr.drivers.lastScope.OrganizationID)
		assert.Equal(t, "u-manager", tr.drivers.lastScope.ActorID)
	})

	t.Run("drivers cannot onboard", func(t *testing.T) {
		resp := tr.do(http.MethodPost, "/api/v1/drivers", "driver", `{"full_name":"X","license_number":"Y"}`)
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("invalid payload", func(t *testing.T) {
		resp := tr.do(http.MethodPost, "/api/v1/drivers", "admin", `{"full_name":`)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("not found maps to 404", func(t *testing.T) {
		resp := tr.do(http.MethodGet, "/api/v1/drivers/missing", "manager", "")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("list paginates", func(t *testing.T) {
		resp := tr.do(http.MethodGet, "/api/v1/drivers?page=1", "manager", "")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"total_count":1`)
	})

	t.Run("drivers only reach their own record", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, tr.do(http.MethodGet, "/api/v1/drivers", "driver", "").Code)
		assert.Equal(t, http.StatusForbidden, tr.do(http.MethodGet, "/api/v1/drivers/drv-2", "driver", "").Code)
		assert.Equal(t, http.StatusForbidden, tr.do(http.MethodGet, "/api/v1/drivers/drv-2/compliance", "driver", "").Code)
	})
}

func TestRouterComplianceRoutes(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.do(http.MethodGet, "/api/v1/drivers/drv-1/compliance?as_of=2024-03-01", "driver", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"overall_score":91`)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), tr.compliance.asOf)

	resp = tr.do(http.MethodGet, "/api/v1/drivers/drv-1/compliance?as_of=03/01/2024", "driver", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = tr.do(http.MethodGet, "/api/v1/compliance/report", "driver", "")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = tr.do(http.MethodGet, "/api/v1/compliance/report/export", "manager", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "compliance_org-1_20240301.csv")

	resp = tr.do(http.MethodGet, "/api/v1/compliance/report/export?format=docx", "manager", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = tr.do(http.MethodPost, "/api/v1/compliance/report/exports?format=csv", "manager", "")
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, resp.Body.String(), "/api/v1/exports/token-1")
}

func TestRouterSignedDownloadSkipsJWT(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.do(http.MethodGet, "/api/v1/exports/token-1", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", resp.Body.String())

	resp = tr.do(http.MethodGet, "/api/v1/exports/other", "", "")
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestRouterSweeps(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.do(http.MethodPost, "/api/v1/sweeps/ledger-expiry", "manager", "")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = tr.do(http.MethodPost, "/api/v1/sweeps/ledger-expiry", "system", `{"as_of":"2024-03-01"}`)
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Len(t, tr.sweeps.enqueued, 1)
	assert.Equal(t, models.SweepLedgerExpiry, tr.sweeps.enqueued[0].Name)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), tr.sweeps.enqueued[0].AsOf)

	resp = tr.do(http.MethodPost, "/api/v1/sweeps/weekly-rest-evaluation", "admin", `{"async":false,"week_start":"2024-02-26"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, tr.sweeps.ran, 1)
	assert.Contains(t, resp.Body.String(), `"succeeded":2`)

	resp = tr.do(http.MethodPost, "/api/v1/sweeps/ledger-expiry", "system", `{"as_of":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRouterReportsServerErrors(t *testing.T) {
	tr := newTestRouter(t)
	tr.compliance.err = appErrors.ErrStorageUnavailable

	resp := tr.do(http.MethodGet, "/api/v1/drivers/drv-1/compliance", "admin", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))
	assert.Len(t, tr.reported, 1)
}

func TestRouterHealthEndpoints(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = tr.do(http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"postgres":"ok"`)

	tr.readinessOK = false
	resp = tr.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Contains(t, resp.Body.String(), "connection refused")

	resp = tr.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestRouterAuditTrail(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.do(http.MethodGet, "/api/v1/audit/driver/drv-1", "manager", "")
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = tr.do(http.MethodGet, "/api/v1/audit/driver/drv-1?limit=10", "admin", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"action":"DRIVER_CREATE"`)

	resp = tr.do(http.MethodGet, "/api/v1/audit/driver/drv-1?limit=ten", "admin", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
