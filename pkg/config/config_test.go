package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 0, cfg.Ledger.Floor)
	assert.False(t, cfg.Ledger.AllowNegative)
	assert.Equal(t, 12, cfg.Ledger.RevocationThreshold)
	assert.Equal(t, 3*365*24*time.Hour, cfg.Ledger.PointsValidity)
	assert.Equal(t, 45.0, cfg.Rest.WeeklyRegularHours)
	assert.Equal(t, 24.0, cfg.Rest.WeeklyReducedHours)
	assert.Equal(t, 21*24*time.Hour, cfg.Rest.CompensationWindow)
	assert.Equal(t, 52, cfg.Rest.ViolationLookbackWeeks)
	assert.Equal(t, 15*time.Minute, cfg.Compliance.CacheTTL)
	assert.Equal(t, cfg.JWT.Secret, cfg.Export.SigningSecret)
}

func TestLoadReadsEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LEDGER_ALLOW_NEGATIVE", "true")
	t.Setenv("LEDGER_FLOOR", "-5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SCORE_CACHE_TTL", "not-a-duration")
	t.Setenv("EXPORT_SIGNING_SECRET", "downloads")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Ledger.AllowNegative)
	assert.Equal(t, -5, cfg.Ledger.Floor)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Compliance.CacheTTL)
	assert.Equal(t, "downloads", cfg.Export.SigningSecret)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
