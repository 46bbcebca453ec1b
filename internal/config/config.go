package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Target is one provider station prefetched by the scheduler.
type Target struct {
	Provider string
	Station  string
}

func (t Target) String() string {
	return t.Provider + ":" + t.Station
}

type AppConfig struct {
	Port string

	// Store backend ("sqlite" or "memory") and the SQLite file.
	StoreBackend string
	DBPath       string

	// CacheTTL is how long a fetched station stays fresh.
	CacheTTL time.Duration

	// Transport.
	HTTPTimeout   time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	MemoTTL       time.Duration
	RateLimitRPS  float64

	FuzzyThreshold float64

	// ProvidersFile is an optional YAML file of extra provider descriptors.
	ProvidersFile string

	// Scheduler.
	Prefetch      []Target
	FetchInterval time.Duration
	PurgeInterval time.Duration

	LogLevel string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:          getenvDefault("PORT", "8080"),
		StoreBackend:  strings.ToLower(getenvDefault("STORE_BACKEND", "sqlite")),
		DBPath:        getenvDefault("DB_PATH", "hydro.db"),
		RetryAttempts: getenvInt("RETRY_ATTEMPTS", 3),
		ProvidersFile: os.Getenv("PROVIDERS_FILE"),
		LogLevel:      strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
	}

	switch cfg.StoreBackend {
	case "sqlite", "memory":
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.StoreBackend)
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"CACHE_TTL", "168h", &cfg.CacheTTL},
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"RETRY_BASE", "500ms", &cfg.RetryBase},
		{"MEMO_TTL", "10m", &cfg.MemoTTL},
		{"FETCH_INTERVAL", "1h", &cfg.FetchInterval},
		{"PURGE_INTERVAL", "24h", &cfg.PurgeInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}

	var err error
	if cfg.RateLimitRPS, err = getenvFloat("RATE_LIMIT_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.FuzzyThreshold, err = getenvFloat("FUZZY_THRESHOLD", 60); err != nil {
		return nil, err
	}
	if cfg.FuzzyThreshold < 0 || cfg.FuzzyThreshold > 100 {
		return nil, fmt.Errorf("invalid FUZZY_THRESHOLD: %v is outside 0-100", cfg.FuzzyThreshold)
	}

	if cfg.Prefetch, err = parseTargets(os.Getenv("PREFETCH_STATIONS")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseTargets reads a "provider:station,provider:station" list.
func parseTargets(s string) ([]Target, error) {
	var targets []Target
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		provider, station, ok := strings.Cut(item, ":")
		provider, station = strings.TrimSpace(provider), strings.TrimSpace(station)
		if !ok || provider == "" || station == "" {
			return nil, fmt.Errorf("invalid PREFETCH_STATIONS entry %q: want provider:station", item)
		}
		targets = append(targets, Target{Provider: provider, Station: station})
	}
	return targets, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
