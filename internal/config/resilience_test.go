package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildkeeper/pkg/ratelimit"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resilience.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadResilienceConfig(t *testing.T) {
	path := writeFile(t, `
domains:
  faceit:
    max_requests: 5
    window: 30s
    max_retries: 2
    base_delay: 250ms
  weather:
    max_requests: 60
    window: 1m
    max_retries: 1
    base_delay: 1s
cache:
  default_ttl: 2m
  prefix_ttls:
    faceit_match: 2h
    weather: 15m
`)

	cfg, err := LoadResilienceConfig(path)
	require.NoError(t, err)

	wantFaceit := ratelimit.DomainConfig{MaxRequests: 5, Window: 30 * time.Second, MaxRetries: 2, BaseDelay: 250 * time.Millisecond}
	if diff := cmp.Diff(wantFaceit, cfg.Domains["faceit"]); diff != "" {
		t.Fatalf("faceit mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, map[string]time.Duration{"faceit_match": 2 * time.Hour, "weather": 15 * time.Minute}, cfg.Cache.PrefixTTLs)

	domains := cfg.DomainConfigs()
	assert.Equal(t, wantFaceit, domains["faceit"])
	assert.Equal(t, 60, domains["weather"].MaxRequests)
	// Built-in entries that the file does not mention survive.
	assert.Equal(t, ratelimit.DefaultDomainConfigs()["twitch"], domains["twitch"])
	assert.Contains(t, domains, ratelimit.DefaultDomain)
}

func TestLoadResilienceConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "domains: [unclosed"},
		{name: "zero budget", content: "domains:\n  faceit:\n    max_requests: 0\n    window: 1m\n"},
		{name: "bad duration", content: "domains:\n  faceit:\n    max_requests: 1\n    window: soon\n"},
		{name: "non-positive prefix ttl", content: "cache:\n  prefix_ttls:\n    x: 0s\n"},
		{name: "negative default ttl", content: "cache:\n  default_ttl: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadResilienceConfig(writeFile(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadResilienceConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDomainConfigs_NilConfig(t *testing.T) {
	var cfg *ResilienceConfig
	assert.Equal(t, ratelimit.DefaultDomainConfigs(), cfg.DomainConfigs())
}
