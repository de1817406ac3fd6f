package cache

import (
	"strings"
	"time"
)

// DefaultTTL applies to keys whose prefix has no entry in the TTL table.
const DefaultTTL = 5 * time.Minute

// DefaultFetchTimeout bounds a shared fetch once it is detached from its callers.
const DefaultFetchTimeout = 30 * time.Second

// KeyDelimiter separates the prefix of a cache key from the rest.
const KeyDelimiter = ":"

// DefaultPrefixTTLs returns the built-in TTL table, keyed by key prefix.
func DefaultPrefixTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"faceit_player":   10 * time.Minute,
		"faceit_stats":    10 * time.Minute,
		"faceit_history":  5 * time.Minute,
		"faceit_match":    time.Hour,
		"twitch_stream":   2 * time.Minute,
		"autorole_config": time.Minute,
	}
}

// Prefix returns the part of key before the first delimiter, or key itself.
func Prefix(key string) string {
	if i := strings.Index(key, KeyDelimiter); i >= 0 {
		return key[:i]
	}
	return key
}

// Config controls TTL resolution and how long a shared fetch may run.
type Config struct {
	DefaultTTL   time.Duration
	PrefixTTLs   map[string]time.Duration
	FetchTimeout time.Duration
}

// DefaultConfig returns the built-in TTL policy.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:   DefaultTTL,
		PrefixTTLs:   DefaultPrefixTTLs(),
		FetchTimeout: DefaultFetchTimeout,
	}
}

// WithOverrides returns a copy of c whose prefix table is extended with overrides.
func (c Config) WithOverrides(overrides map[string]time.Duration) Config {
	merged := make(map[string]time.Duration, len(c.PrefixTTLs)+len(overrides))
	for prefix, ttl := range c.PrefixTTLs {
		merged[prefix] = ttl
	}
	for prefix, ttl := range overrides {
		if ttl > 0 {
			merged[prefix] = ttl
		}
	}
	c.PrefixTTLs = merged
	return c
}

// ResolveTTL picks the TTL for key: explicit ttl, then the prefix table, then
// the default.
func (c Config) ResolveTTL(key string, ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if prefixTTL, ok := c.PrefixTTLs[Prefix(key)]; ok && prefixTTL > 0 {
		return prefixTTL
	}
	if c.DefaultTTL > 0 {
		return c.DefaultTTL
	}
	return DefaultTTL
}

func (c Config) fetchTimeout() time.Duration {
	if c.FetchTimeout > 0 {
		return c.FetchTimeout
	}
	return DefaultFetchTimeout
}
