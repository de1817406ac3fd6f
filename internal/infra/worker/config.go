package worker

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	pkgconfig "guildkeeper/internal/pkg/config"
)

// WorkerConfig holds the settings of the background scheduler and its
// maintenance jobs.
//
// Configuration sources:
//   - Environment variables (loaded via LoadConfigFromEnv)
//   - Default values (provided by DefaultConfig)
//
// Invalid values never stop the process: each field falls back to its
// default and the fallback is logged and counted.
type WorkerConfig struct {
	// JobTimeout bounds a single job run. Range: 1s-1h. Default: 2m.
	JobTimeout time.Duration

	// HealthPort is the port of the health and metrics server. Range: 1024-65535. Default: 9091.
	HealthPort int

	CacheCleanupInterval   time.Duration
	StateAutosaveInterval  time.Duration
	RateLimitSweepInterval time.Duration
	LogRotationInterval    time.Duration
	LogCleanupInterval     time.Duration

	// LogMaxAge is how long rotated log files are kept. Default: 30 days.
	LogMaxAge time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() *WorkerConfig {
	return &WorkerConfig{
		JobTimeout:             2 * time.Minute,
		HealthPort:             9091,
		CacheCleanupInterval:   5 * time.Minute,
		StateAutosaveInterval:  2 * time.Minute,
		RateLimitSweepInterval: 10 * time.Minute,
		LogRotationInterval:    time.Hour,
		LogCleanupInterval:     24 * time.Hour,
		LogMaxAge:              30 * 24 * time.Hour,
	}
}

// HealthAddr returns the listen address of the health server.
func (c *WorkerConfig) HealthAddr() string {
	return fmt.Sprintf(":%d", c.HealthPort)
}

// Validate checks every field and reports all problems at once.
func (c *WorkerConfig) Validate() error {
	var errs []string

	if err := pkgconfig.ValidateDuration(c.JobTimeout, time.Second, time.Hour); err != nil {
		errs = append(errs, fmt.Sprintf("JobTimeout: %v", err))
	}
	if err := pkgconfig.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Sprintf("HealthPort: %v", err))
	}
	for name, d := range c.intervals() {
		if err := pkgconfig.ValidatePositiveDuration(d); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if err := pkgconfig.ValidatePositiveDuration(c.LogMaxAge); err != nil {
		errs = append(errs, fmt.Sprintf("LogMaxAge: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("worker config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *WorkerConfig) intervals() map[string]time.Duration {
	return map[string]time.Duration{
		"CacheCleanupInterval":   c.CacheCleanupInterval,
		"StateAutosaveInterval":  c.StateAutosaveInterval,
		"RateLimitSweepInterval": c.RateLimitSweepInterval,
		"LogRotationInterval":    c.LogRotationInterval,
		"LogCleanupInterval":     c.LogCleanupInterval,
	}
}

// LoadConfigFromEnv loads the worker configuration with a fail-open strategy.
//
// Environment variables:
//   - WORKER_JOB_TIMEOUT (duration)
//   - WORKER_HEALTH_PORT (int)
//   - CACHE_CLEANUP_INTERVAL, STATE_AUTOSAVE_INTERVAL, RATELIMIT_SWEEP_INTERVAL,
//     LOG_ROTATION_INTERVAL, LOG_CLEANUP_INTERVAL (duration)
//   - LOG_MAX_AGE (duration)
//
// metrics may be nil.
func LoadConfigFromEnv(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) *WorkerConfig {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	cfg := &WorkerConfig{}
	fallback := false

	apply := func(field string, result pkgconfig.ConfigLoadResult) {
		for _, w := range result.Warnings {
			logger.Warn("worker configuration fallback",
				slog.String("field", field),
				slog.String("warning", w))
		}
		if result.FallbackApplied {
			fallback = true
			metrics.RecordFallback(field)
		}
	}

	durations := []struct {
		env      string
		field    string
		target   *time.Duration
		fallback time.Duration
		validate func(time.Duration) error
	}{
		{"WORKER_JOB_TIMEOUT", "job_timeout", &cfg.JobTimeout, defaults.JobTimeout,
			func(d time.Duration) error { return pkgconfig.ValidateDuration(d, time.Second, time.Hour) }},
		{"CACHE_CLEANUP_INTERVAL", "cache_cleanup_interval", &cfg.CacheCleanupInterval, defaults.CacheCleanupInterval, pkgconfig.ValidatePositiveDuration},
		{"STATE_AUTOSAVE_INTERVAL", "state_autosave_interval", &cfg.StateAutosaveInterval, defaults.StateAutosaveInterval, pkgconfig.ValidatePositiveDuration},
		{"RATELIMIT_SWEEP_INTERVAL", "ratelimit_sweep_interval", &cfg.RateLimitSweepInterval, defaults.RateLimitSweepInterval, pkgconfig.ValidatePositiveDuration},
		{"LOG_ROTATION_INTERVAL", "log_rotation_interval", &cfg.LogRotationInterval, defaults.LogRotationInterval, pkgconfig.ValidatePositiveDuration},
		{"LOG_CLEANUP_INTERVAL", "log_cleanup_interval", &cfg.LogCleanupInterval, defaults.LogCleanupInterval, pkgconfig.ValidatePositiveDuration},
		{"LOG_MAX_AGE", "log_max_age", &cfg.LogMaxAge, defaults.LogMaxAge, pkgconfig.ValidatePositiveDuration},
	}
	for _, d := range durations {
		result := pkgconfig.LoadEnvDuration(d.env, d.fallback, d.validate)
		*d.target = result.Value.(time.Duration)
		apply(d.field, result)
	}

	portResult := pkgconfig.LoadEnvInt("WORKER_HEALTH_PORT", defaults.HealthPort, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = portResult.Value.(int)
	apply("health_port", portResult)

	metrics.SetFallbackActive(fallback)
	metrics.RecordLoadTimestamp()

	logger.Info("worker configuration loaded",
		slog.Duration("job_timeout", cfg.JobTimeout),
		slog.Int("health_port", cfg.HealthPort),
		slog.Bool("fallback_applied", fallback))

	return cfg
}
