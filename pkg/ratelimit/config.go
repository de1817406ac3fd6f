package ratelimit

import (
	"fmt"
	"time"
)

// DefaultDomain is the bucket used for calls that name no domain, and the
// configuration source for domains missing from the table.
const DefaultDomain = "default"

// DomainConfig is the request budget and retry policy of one upstream domain.
type DomainConfig struct {
	// MaxRequests is the number of requests admitted per Window.
	MaxRequests int `yaml:"max_requests"`

	// Window is the length of the sliding window.
	Window time.Duration `yaml:"window"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay is the backoff unit: retry n waits BaseDelay * 2^n.
	BaseDelay time.Duration `yaml:"base_delay"`
}

// Validate checks that the configuration can drive a bucket.
func (c DomainConfig) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive, got %d", c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Window)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative, got %v", c.BaseDelay)
	}
	return nil
}

// DefaultDomainConfigs returns the built-in budgets for the upstreams the bot calls.
func DefaultDomainConfigs() map[string]DomainConfig {
	return map[string]DomainConfig{
		"faceit": {
			MaxRequests: 10,
			Window:      time.Minute,
			MaxRetries:  3,
			BaseDelay:   time.Second,
		},
		"twitch": {
			MaxRequests: 30,
			Window:      time.Minute,
			MaxRetries:  3,
			BaseDelay:   500 * time.Millisecond,
		},
		"soundcloud": {
			MaxRequests: 20,
			Window:      time.Minute,
			MaxRetries:  2,
			BaseDelay:   time.Second,
		},
		DefaultDomain: {
			MaxRequests: 20,
			Window:      time.Minute,
			MaxRetries:  3,
			BaseDelay:   time.Second,
		},
	}
}

// LimiterConfig configures a DomainLimiter.
type LimiterConfig struct {
	// Domains maps domain names to budgets. A DefaultDomain entry is added
	// from DefaultDomainConfigs when missing.
	Domains map[string]DomainConfig

	// WaitBuffer is added to every computed capacity wait.
	// Default: 50ms
	WaitBuffer time.Duration

	// MinWait is the floor for a single capacity wait.
	// Default: 100ms
	MinWait time.Duration

	// Clock provides time operations for testing.
	// Default: SystemClock
	Clock Clock
}

// DefaultLimiterConfig returns the built-in domain table with default waits.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Domains:    DefaultDomainConfigs(),
		WaitBuffer: 50 * time.Millisecond,
		MinWait:    100 * time.Millisecond,
		Clock:      &SystemClock{},
	}
}

// ApplyDefaults fills unset fields.
func (c *LimiterConfig) ApplyDefaults() {
	if c.Domains == nil {
		c.Domains = make(map[string]DomainConfig)
	}
	if _, ok := c.Domains[DefaultDomain]; !ok {
		c.Domains[DefaultDomain] = DefaultDomainConfigs()[DefaultDomain]
	}
	if c.WaitBuffer < 0 {
		c.WaitBuffer = 0
	}
	if c.WaitBuffer == 0 {
		c.WaitBuffer = 50 * time.Millisecond
	}
	if c.MinWait <= 0 {
		c.MinWait = 100 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = &SystemClock{}
	}
}

// Validate checks every domain entry.
func (c *LimiterConfig) Validate() error {
	for name, dc := range c.Domains {
		if name == "" {
			return fmt.Errorf("domain name cannot be empty")
		}
		if err := dc.Validate(); err != nil {
			return fmt.Errorf("domain %q: %w", name, err)
		}
	}
	return nil
}
