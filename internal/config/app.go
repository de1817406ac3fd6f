// Package config loads the process-level settings of guildkeeper: where state
// and cache live, where logs go, and the optional resilience file with domain
// budgets and cache TTLs.
package config

import (
	"log/slog"
	"time"

	pkgconfig "guildkeeper/internal/pkg/config"
)

// Networked backend schemes accepted in STATE_URL and CACHE_REDIS_URL.
var (
	stateSchemes = []string{"redis", "rediss", "postgres", "postgresql"}
	cacheSchemes = []string{"redis", "rediss"}
)

// AppConfig holds storage and logging settings.
type AppConfig struct {
	// StateURL selects the networked state backend. Empty means local storage only.
	StateURL string

	// CacheURL enables the remote cache tier. Empty means memory only.
	CacheURL string

	// DataDir holds state.db / state.json. Default: "data"
	DataDir string

	// LogDir enables the rotated file sink when set.
	LogDir string

	// LogLevel is debug, info, warn or error. Default: "info"
	LogLevel string

	// ResilienceFile is an optional YAML file with domain budgets and TTL overrides.
	ResilienceFile string

	// CacheDefaultTTL applies to keys without a prefix entry. Default: 5m
	CacheDefaultTTL time.Duration
}

// DefaultAppConfig returns local-only storage under ./data.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		DataDir:         "data",
		LogLevel:        "info",
		CacheDefaultTTL: 5 * time.Minute,
	}
}

// LoadAppConfig reads the environment with fail-open fallbacks.
//
// Environment variables:
//   - STATE_URL (falls back to REDIS_URL): redis://, rediss://, postgres:// or postgresql://
//   - CACHE_REDIS_URL (falls back to REDIS_URL): redis:// or rediss://
//   - DATA_DIR, LOG_DIR
//   - LOG_LEVEL: debug|info|warn|error
//   - RESILIENCE_CONFIG: path to the YAML file
//   - CACHE_DEFAULT_TTL: duration, 1s-24h
//
// An invalid URL disables the corresponding networked tier rather than
// failing startup.
func LoadAppConfig(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) AppConfig {
	cfg := DefaultAppConfig()
	fallbackApplied := false

	apply := func(field string, result pkgconfig.ConfigLoadResult) {
		if !result.FallbackApplied {
			return
		}
		fallbackApplied = true
		metrics.RecordFallback(field)
		for _, warning := range result.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}

	redisURL := pkgconfig.LoadEnvString("REDIS_URL", "")

	result := pkgconfig.LoadEnvWithFallback("STATE_URL", "", func(s string) error {
		return pkgconfig.ValidateURLScheme(s, stateSchemes...)
	})
	apply("state_url", result)
	cfg.StateURL = result.Value.(string)
	if cfg.StateURL == "" && !result.FallbackApplied {
		cfg.StateURL = redisURL
	}

	result = pkgconfig.LoadEnvWithFallback("CACHE_REDIS_URL", "", func(s string) error {
		return pkgconfig.ValidateURLScheme(s, cacheSchemes...)
	})
	apply("cache_url", result)
	cfg.CacheURL = result.Value.(string)
	if cfg.CacheURL == "" && !result.FallbackApplied {
		cfg.CacheURL = redisURL
	}

	cfg.DataDir = pkgconfig.LoadEnvString("DATA_DIR", cfg.DataDir)
	cfg.LogDir = pkgconfig.LoadEnvString("LOG_DIR", cfg.LogDir)
	cfg.ResilienceFile = pkgconfig.LoadEnvString("RESILIENCE_CONFIG", cfg.ResilienceFile)

	result = pkgconfig.LoadEnvWithFallback("LOG_LEVEL", cfg.LogLevel, func(s string) error {
		return pkgconfig.ValidateOneOf(s, "debug", "info", "warn", "error")
	})
	apply("log_level", result)
	cfg.LogLevel = result.Value.(string)

	result = pkgconfig.LoadEnvDuration("CACHE_DEFAULT_TTL", cfg.CacheDefaultTTL, func(d time.Duration) error {
		return pkgconfig.ValidateDuration(d, time.Second, 24*time.Hour)
	})
	apply("cache_default_ttl", result)
	cfg.CacheDefaultTTL = result.Value.(time.Duration)

	metrics.SetFallbackActive(fallbackApplied)
	metrics.RecordLoadTimestamp()

	return cfg
}
