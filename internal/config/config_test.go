package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "STORE_BACKEND", "DB_PATH", "CACHE_TTL", "HTTP_TIMEOUT", "RETRY_ATTEMPTS",
	"RETRY_BASE", "MEMO_TTL", "RATE_LIMIT_RPS", "FUZZY_THRESHOLD", "PROVIDERS_FILE",
	"PREFETCH_STATIONS", "FETCH_INTERVAL", "PURGE_INTERVAL", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, "hydro.db", cfg.DBPath)
	assert.Equal(t, 7*24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBase)
	assert.Equal(t, 10*time.Minute, cfg.MemoTTL)
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 60.0, cfg.FuzzyThreshold)
	assert.Equal(t, time.Hour, cfg.FetchInterval)
	assert.Equal(t, 24*time.Hour, cfg.PurgeInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Prefetch)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("CACHE_TTL", "2h")
	t.Setenv("FUZZY_THRESHOLD", "75.5")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("PREFETCH_STATIONS", " united_kingdom:1029TH , canada:05BJ004,")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 2*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 75.5, cfg.FuzzyThreshold)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, []Target{
		{Provider: "united_kingdom", Station: "1029TH"},
		{Provider: "canada", Station: "05BJ004"},
	}, cfg.Prefetch)
	assert.Equal(t, "canada:05BJ004", cfg.Prefetch[1].String())
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CACHE_TTL":         "soon",
		"HTTP_TIMEOUT":      "-1s",
		"FUZZY_THRESHOLD":   "120",
		"RATE_LIMIT_RPS":    "fast",
		"STORE_BACKEND":     "postgres",
		"PREFETCH_STATIONS": "canada",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestGetenvIntFallsBack(t *testing.T) {
	t.Setenv("RETRY_ATTEMPTS", "many")
	assert.Equal(t, 3, getenvInt("RETRY_ATTEMPTS", 3))
}

func TestFromEnvKeepsZeroThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("FUZZY_THRESHOLD", "0")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Zero(t, cfg.FuzzyThreshold)
}
