package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Sentry     SentryConfig
	RateLimit  RateLimitConfig
	Ledger     LedgerConfig
	Rest       RestConfig
	Compliance ComplianceConfig
	Sweeps     SweepConfig
	Export     ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
	QueryTimeout time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig configures verification of bearer tokens minted by the identity provider.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SentryConfig enables error reporting when a DSN is present.
type SentryConfig struct {
	DSN     string
	Release string
}

// RateLimitConfig sets the per-organization token bucket.
type RateLimitConfig struct {
	Enabled   bool
	PerSecond float64
	Burst     int
}

// LedgerConfig holds the points ledger policy.
type LedgerConfig struct {
	Floor               int
	AllowNegative       bool
	PointsValidity      time.Duration
	RevocationThreshold int
}

// RestConfig holds the statutory rest thresholds in hours.
type RestConfig struct {
	DailyRegularHours      float64
	DailyReducedHours      float64
	MaxReducedDailyRests   int
	WeeklyRegularHours     float64
	WeeklyReducedHours     float64
	CompensationWindow     time.Duration
	ViolationLookbackWeeks int
}

// ComplianceConfig tunes the score cache.
type ComplianceConfig struct {
	CacheTTL time.Duration
}

// SweepConfig configures the batch job queue.
type SweepConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// ExportConfig controls stored report downloads.
type ExportConfig struct {
	Dir           string
	ResultTTL     time.Duration
	SigningSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
		QueryTimeout: parseDuration(v.GetString("DB_QUERY_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: v.GetString("JWT_AUDIENCE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Sentry = SentryConfig{
		DSN:     v.GetString("SENTRY_DSN"),
		Release: v.GetString("SENTRY_RELEASE"),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:   v.GetBool("RATE_LIMIT_ENABLED"),
		PerSecond: v.GetFloat64("RATE_LIMIT_PER_SECOND"),
		Burst:     v.GetInt("RATE_LIMIT_BURST"),
	}

	cfg.Ledger = LedgerConfig{
		Floor:               v.GetInt("LEDGER_FLOOR"),
		AllowNegative:       v.GetBool("LEDGER_ALLOW_NEGATIVE"),
		PointsValidity:      parseDuration(v.GetString("LEDGER_POINTS_VALIDITY"), 3*365*24*time.Hour),
		RevocationThreshold: v.GetInt("LEDGER_REVOCATION_THRESHOLD"),
	}

	cfg.Rest = RestConfig{
		DailyRegularHours:      v.GetFloat64("REST_DAILY_REGULAR_HOURS"),
		DailyReducedHours:      v.GetFloat64("REST_DAILY_REDUCED_HOURS"),
		MaxReducedDailyRests:   v.GetInt("REST_MAX_REDUCED_DAILY"),
		WeeklyRegularHours:     v.GetFloat64("REST_WEEKLY_REGULAR_HOURS"),
		WeeklyReducedHours:     v.GetFloat64("REST_WEEKLY_REDUCED_HOURS"),
		CompensationWindow:     parseDuration(v.GetString("REST_COMPENSATION_WINDOW"), 21*24*time.Hour),
		ViolationLookbackWeeks: v.GetInt("REST_VIOLATION_LOOKBACK_WEEKS"),
	}

	cfg.Compliance = ComplianceConfig{
		CacheTTL: parseDuration(v.GetString("SCORE_CACHE_TTL"), 15*time.Minute),
	}

	cfg.Sweeps = SweepConfig{
		Workers:    v.GetInt("SWEEP_WORKERS"),
		MaxRetries: v.GetInt("SWEEP_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("SWEEP_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Export = ExportConfig{
		Dir:           v.GetString("EXPORT_DIR"),
		ResultTTL:     parseDuration(v.GetString("EXPORT_RESULT_TTL"), 24*time.Hour),
		SigningSecret: v.GetString("EXPORT_SIGNING_SECRET"),
	}
	if cfg.Export.SigningSecret == "" {
		cfg.Export.SigningSecret = cfg.JWT.Secret
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "fleet_compliance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("SENTRY_RELEASE", "")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_PER_SECOND", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	v.SetDefault("LEDGER_FLOOR", 0)
	v.SetDefault("LEDGER_ALLOW_NEGATIVE", false)
	v.SetDefault("LEDGER_POINTS_VALIDITY", "26280h")
	v.SetDefault("LEDGER_REVOCATION_THRESHOLD", 12)

	v.SetDefault("REST_DAILY_REGULAR_HOURS", 11)
	v.SetDefault("REST_DAILY_REDUCED_HOURS", 9)
	v.SetDefault("REST_MAX_REDUCED_DAILY", 3)
	v.SetDefault("REST_WEEKLY_REGULAR_HOURS", 45)
	v.SetDefault("REST_WEEKLY_REDUCED_HOURS", 24)
	v.SetDefault("REST_COMPENSATION_WINDOW", "504h")
	v.SetDefault("REST_VIOLATION_LOOKBACK_WEEKS", 52)

	v.SetDefault("SCORE_CACHE_TTL", "15m")

	v.SetDefault("SWEEP_WORKERS", 1)
	v.SetDefault("SWEEP_MAX_RETRIES", 3)
	v.SetDefault("SWEEP_RETRY_DELAY", "30s")

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_RESULT_TTL", "24h")
	v.SetDefault("EXPORT_SIGNING_SECRET", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
