package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/fleet-compliance-api/internal/middleware"
	"github.com/noah-isme/fleet-compliance-api/internal/models"
	"github.com/noah-isme/fleet-compliance-api/internal/service"
	"github.com/noah-isme/fleet-compliance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/fleet-compliance-api/pkg/middleware/cors"
	"github.com/noah-isme/fleet-compliance-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/fleet-compliance-api/pkg/middleware/requestid"
)

// RouterConfig collects everything the HTTP surface needs.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool

	Logger   *zap.Logger
	Tokens   middleware.TokenValidator
	Limiter  *ratelimit.Limiter
	Metrics  *service.MetricsService
	Reporter middleware.Reporter

	Drivers       *DriverHandler
	Ledger        *LedgerHandler
	Rest          *RestHandler
	Infringements *InfringementHandler
	Compliance    *ComplianceHandler
	Sweeps        *SweepHandler
	Audit         *AuditHandler
	Observability *MetricsHandler
}

var (
	readers  = []models.UserRole{models.RoleAdmin, models.RoleComplianceOfficer, models.RoleFleetManager, models.RoleDriver}
	managers = []models.UserRole{models.RoleAdmin, models.RoleComplianceOfficer, models.RoleFleetManager}
	officers = []models.UserRole{models.RoleAdmin, models.RoleComplianceOfficer}
)

// NewRouter builds the gin engine with every route mounted.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = func(error, ...map[string]string) {}
	}

	r := gin.New()
	r.Use(middleware.ReportErrors(cfg.Reporter))
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics, "/health", "/ready", "/metrics"))

	if h := cfg.Observability; h != nil {
		r.GET("/health", h.Health)
		r.GET("/ready", h.Ready)
		r.GET("/metrics", h.Prometheus)
	}
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if cfg.Compliance != nil {
		// Signed links carry their own authorization.
		api.GET("/exports/:token", cfg.Compliance.Download)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(cfg.Tokens))
	if cfg.Limiter != nil {
		secured.Use(cfg.Limiter.Middleware(middleware.OrganizationKey))
	}
	secured.Use(middleware.RequestMeta())

	read := middleware.RequireRoles(readers...)
	manage := middleware.RequireRoles(managers...)
	officer := middleware.RequireRoles(officers...)
	own := middleware.RequireSelf("id")

	if h := cfg.Drivers; h != nil {
		secured.POST("/drivers", manage, h.Create)
		secured.GET("/drivers", manage, h.List)
		secured.GET("/drivers/:id", read, own, h.Get)
		secured.POST("/drivers/:id/deactivate", manage, h.Deactivate)
		secured.POST("/drivers/:id/reactivate", manage, h.Reactivate)
	}
	if h := cfg.Ledger; h != nil {
		secured.GET("/drivers/:id/points", read, own, h.List)
		secured.POST("/drivers/:id/points", officer, h.Post)
		secured.GET("/drivers/:id/points/balance", read, own, h.Balance)
		secured.POST("/points/:entryId/reverse", officer, h.Reverse)
	}
	if h := cfg.Rest; h != nil {
		secured.POST("/drivers/:id/daily-rests", read, own, h.RecordDaily)
		secured.GET("/drivers/:id/daily-rests", read, own, h.ListDaily)
		secured.POST("/drivers/:id/weekly-rests", read, own, h.RecordWeekly)
		secured.GET("/drivers/:id/weekly-rests", read, own, h.ListWeekly)
		secured.POST("/drivers/:id/weekly-rests/evaluate", manage, h.Evaluate)
		secured.POST("/drivers/:id/weekly-rests/compensation", read, own, h.Compensate)
	}
	if h := cfg.Infringements; h != nil {
		secured.GET("/infringement-types", read, h.ListTypes)
		secured.POST("/infringement-types", officer, h.CreateType)
		secured.GET("/infringements", read, h.List)
		secured.POST("/infringements", manage, h.Create)
		secured.GET("/infringements/:id", read, h.Get)
		secured.POST("/infringements/:id/issue", officer, h.Issue)
		secured.POST("/infringements/:id/resolve", officer, h.Resolve)
		secured.GET("/infringements/:id/appeals", read, h.ListAppeals)
		secured.POST("/infringements/:id/appeals", read, h.FileAppeal)
		secured.POST("/appeals/:id/review", officer, h.ReviewAppeal)
		secured.POST("/appeals/:id/decision", officer, h.DecideAppeal)
		secured.POST("/appeals/:id/withdraw", read, h.WithdrawAppeal)
	}
	if h := cfg.Compliance; h != nil {
		secured.GET("/drivers/:id/compliance", read, own, h.Score)
		secured.GET("/compliance/report", manage, h.Report)
		secured.GET("/compliance/report/export", manage, h.Export)
		secured.POST("/compliance/report/exports", manage, h.StoreExport)
	}
	if h := cfg.Audit; h != nil {
		secured.GET("/audit/:resource/:id", officer, h.Trail)
	}
	if h := cfg.Sweeps; h != nil {
		secured.POST("/sweeps/:name", middleware.RequireRoles(models.RoleSystem, models.RoleAdmin), h.Trigger)
	}
	return r
}
