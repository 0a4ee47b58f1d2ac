package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/fleet-compliance-api/api/swagger"
	"github.com/noah-isme/fleet-compliance-api/internal/handler"
	"github.com/noah-isme/fleet-compliance-api/internal/repository"
	"github.com/noah-isme/fleet-compliance-api/internal/service"
	"github.com/noah-isme/fleet-compliance-api/pkg/cache"
	"github.com/noah-isme/fleet-compliance-api/pkg/config"
	"github.com/noah-isme/fleet-compliance-api/pkg/database"
	"github.com/noah-isme/fleet-compliance-api/pkg/jobs"
	"github.com/noah-isme/fleet-compliance-api/pkg/logger"
	"github.com/noah-isme/fleet-compliance-api/pkg/middleware/ratelimit"
	"github.com/noah-isme/fleet-compliance-api/pkg/observability"
	"github.com/noah-isme/fleet-compliance-api/pkg/storage"
)

// @title Fleet Compliance API
// @version 1.0.0
// @description Driver penalty points, rest tracking, infringements and compliance scoring.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	flush, err := observability.InitSentry(cfg.Sentry.DSN, cfg.Env, cfg.Sentry.Release)
	if err != nil {
		logr.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logr.Fatal("failed to migrate", zap.Error(err))
		}
	}
	if version, err := database.MigrationVersion(ctx, db); err == nil {
		logr.Info("schema ready", zap.Int64("version", version))
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// Scores are recomputed on every read without the cache.
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	if err := metrics.RegisterDBStats(db.DB, cfg.Database.Name); err != nil {
		logr.Warn("db stats collector not registered", zap.Error(err))
	}
	validate := validator.New()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Compliance.CacheTTL, logr, redisClient != nil)

	auditRepo := repository.NewAuditRepository(db)
	driverRepo := repository.NewDriverRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	restRepo := repository.NewRestRepository(db)
	infringementRepo := repository.NewInfringementRepository(db)
	appealRepo := repository.NewAppealRepository(db)

	compliance := service.NewComplianceService(nil, nil, nil, nil, cacheSvc, logr, cfg.Ledger.RevocationThreshold, cfg.Compliance.CacheTTL)
	drivers := service.NewDriverService(driverRepo, auditRepo, validate, logr, compliance)
	ledger := service.NewLedgerService(ledgerRepo, auditRepo, validate, logr, cfg.Ledger,
		service.WithLedgerMetrics(metrics),
		service.WithLedgerInvalidator(compliance),
	)
	rests := service.NewRestService(restRepo, auditRepo, validate, logr, cfg.Rest,
		service.WithRestInvalidator(compliance),
	)
	infringements := service.NewInfringementService(infringementRepo, appealRepo, ledger, auditRepo, validate, logr,
		service.WithInfringementMetrics(metrics),
		service.WithInfringementInvalidator(compliance),
	)
	compliance.SetSources(drivers, ledger, infringements, rests)

	exportStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewDownloadSigner(cfg.Export.SigningSecret, cfg.Export.ResultTTL)
	exports := service.NewExportService(compliance, exportStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Export.ResultTTL,
	}, logr)

	var sweeps *service.SweepService
	queue := jobs.NewQueue("sweeps", func(ctx context.Context, job jobs.Job) error {
		return sweeps.HandleJob(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Sweeps.Workers,
		MaxRetries: cfg.Sweeps.MaxRetries,
		RetryDelay: cfg.Sweeps.RetryDelay,
		Logger:     logr,
		Observer: func(job jobs.Job, _ time.Duration, err error) {
			metrics.ObserveJob(job.Type, err)
		},
	})
	sweeps = service.NewSweepService(ledger, infringements, rests, drivers, logr,
		service.WithSweepQueue(queue),
		service.WithSweepMetrics(metrics),
		service.WithSweepExports(exports),
	)
	// Workers outlive the signal context so queued sweeps can drain on shutdown.
	queue.Start(context.Background())

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if cacheRepo.Enabled() {
		checks["redis"] = cacheRepo.Ping
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Tokens: service.NewTokenService(service.TokenConfig{
			Secret:   cfg.JWT.Secret,
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
		}),
		Limiter:       limiter,
		Metrics:       metrics,
		Reporter:      observability.CaptureErr,
		Drivers:       handler.NewDriverHandler(drivers),
		Ledger:        handler.NewLedgerHandler(ledger),
		Rest:          handler.NewRestHandler(rests),
		Infringements: handler.NewInfringementHandler(infringements),
		Compliance:    handler.NewComplianceHandler(compliance, exports),
		Sweeps:        handler.NewSweepHandler(sweeps),
		Audit:         handler.NewAuditHandler(service.NewAuditService(auditRepo)),
		Observability: handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown", zap.Error(err))
	}
	if err := queue.Drain(shutdownCtx); err != nil {
		logr.Warn("sweep queue drain timed out", zap.Error(err))
	}
	queue.Stop()
}
