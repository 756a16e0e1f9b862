package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/stock")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "en", cfg.ValuationLang)
	require.Equal(t, 10*time.Minute, cfg.ValuationCacheTTL)
	require.Equal(t, 50, cfg.ValuationAsyncThreshold)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	require.Equal(t, 60, cfg.RateLimitPerMinute)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	t.Setenv("VALUATION_LANG", "fr")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "VALUATION_LANG")

	t.Setenv("VALUATION_LANG", "id")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "RATE_LIMIT_PER_MINUTE")

	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("VALUATION_CACHE_TTL", "soon")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestIsProduction(t *testing.T) {
	var cfg *Config
	require.False(t, cfg.IsProduction())
	require.True(t, (&Config{AppEnv: "production"}).IsProduction())
}
