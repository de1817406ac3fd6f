package fetcher

import (
	"fmt"
	"log/slog"
	"time"

	"guildkeeper/internal/pkg/config"
)

// ClientConfig holds the transport settings of the rate-limited client.
// Per-domain budgets and retry counts live in ratelimit.DomainConfig.
type ClientConfig struct {
	// Timeout bounds a single attempt, including reading the body.
	// Default: 10s
	Timeout time.Duration

	// MaxBodySize caps bodies decoded by FetchJSON.
	// Default: 10485760 (10MB)
	MaxBodySize int64

	// MaxRedirects is the maximum number of HTTP redirects to follow.
	// Default: 5
	MaxRedirects int

	// DenyPrivateIPs rejects hosts resolving to loopback, private or
	// link-local addresses. Off by default because every upstream is a
	// fixed public API.
	// Default: false
	DenyPrivateIPs bool

	// UserAgent is sent when the caller sets none.
	// Default: "guildkeeper/1.0"
	UserAgent string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:        10 * time.Second,
		MaxBodySize:    10 * 1024 * 1024, // 10MB
		MaxRedirects:   5,
		DenyPrivateIPs: false,
		UserAgent:      "guildkeeper/1.0",
	}
}

// Validate checks if the configuration values are valid.
//
// Validation rules:
//   - Timeout: > 0
//   - MaxBodySize: 1KB-100MB
//   - MaxRedirects: 0-10
func (c *ClientConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}

	minBodySize := int64(1024)              // 1KB
	maxBodySize := int64(100 * 1024 * 1024) // 100MB
	if c.MaxBodySize < minBodySize || c.MaxBodySize > maxBodySize {
		return fmt.Errorf("max body size must be between %d and %d bytes, got %d", minBodySize, maxBodySize, c.MaxBodySize)
	}

	if c.MaxRedirects < 0 || c.MaxRedirects > 10 {
		return fmt.Errorf("max redirects must be between 0 and 10, got %d", c.MaxRedirects)
	}

	return nil
}

// LoadConfigFromEnv loads the client configuration from environment
// variables. Invalid values fall back to defaults with a warning; the
// returned configuration is always valid.
//
// Environment variables:
//   - FETCH_TIMEOUT: duration, 100ms-2m (default: 10s)
//   - FETCH_MAX_REDIRECTS: integer 0-10 (default: 5)
//   - FETCH_DENY_PRIVATE_IPS: boolean (default: false)
//   - FETCH_USER_AGENT: string (default: guildkeeper/1.0)
func LoadConfigFromEnv(logger *slog.Logger) ClientConfig {
	cfg := DefaultConfig()

	warn := func(field string, warnings []string) {
		for _, warning := range warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}

	result := config.LoadEnvDuration("FETCH_TIMEOUT", cfg.Timeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 100*time.Millisecond, 2*time.Minute)
	})
	cfg.Timeout = result.Value.(time.Duration)
	warn("Timeout", result.Warnings)

	result = config.LoadEnvInt("FETCH_MAX_REDIRECTS", cfg.MaxRedirects, func(v int) error {
		return config.ValidateIntRange(v, 0, 10)
	})
	cfg.MaxRedirects = result.Value.(int)
	warn("MaxRedirects", result.Warnings)

	result = config.LoadEnvBool("FETCH_DENY_PRIVATE_IPS", cfg.DenyPrivateIPs)
	cfg.DenyPrivateIPs = result.Value.(bool)
	warn("DenyPrivateIPs", result.Warnings)

	cfg.UserAgent = config.LoadEnvString("FETCH_USER_AGENT", cfg.UserAgent)

	return cfg
}
