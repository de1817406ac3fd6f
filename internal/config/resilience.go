package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"guildkeeper/pkg/ratelimit"
)

// ResilienceConfig is the optional YAML file that tunes domain budgets and
// cache TTLs without a rebuild:
//
//	domains:
//	  faceit:
//	    max_requests: 10
//	    window: 1m
//	    max_retries: 3
//	    base_delay: 1s
//	cache:
//	  default_ttl: 5m
//	  prefix_ttls:
//	    faceit_match: 1h
type ResilienceConfig struct {
	Domains map[string]ratelimit.DomainConfig `yaml:"domains"`
	Cache   CacheConfig                       `yaml:"cache"`
}

// CacheConfig overrides cache TTL resolution.
type CacheConfig struct {
	DefaultTTL time.Duration            `yaml:"default_ttl"`
	PrefixTTLs map[string]time.Duration `yaml:"prefix_ttls"`
}

// LoadResilienceConfig reads and validates path.
func LoadResilienceConfig(path string) (*ResilienceConfig, error) {
	// #nosec G304 -- path comes from RESILIENCE_CONFIG, set by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ResilienceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks every domain budget and TTL.
func (c *ResilienceConfig) Validate() error {
	for name, domain := range c.Domains {
		if err := domain.Validate(); err != nil {
			return fmt.Errorf("domain %q: %w", name, err)
		}
	}
	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache default_ttl cannot be negative")
	}
	for prefix, ttl := range c.Cache.PrefixTTLs {
		if ttl <= 0 {
			return fmt.Errorf("cache prefix %q: ttl must be positive, got %v", prefix, ttl)
		}
	}
	return nil
}

// DomainConfigs merges the file's domains over the built-in table.
func (c *ResilienceConfig) DomainConfigs() map[string]ratelimit.DomainConfig {
	domains := ratelimit.DefaultDomainConfigs()
	if c == nil {
		return domains
	}
	for name, domain := range c.Domains {
		domains[name] = domain
	}
	return domains
}
