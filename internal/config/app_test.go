package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	pkgconfig "guildkeeper/internal/pkg/config"
)

var appEnvKeys = []string{
	"REDIS_URL", "STATE_URL", "CACHE_REDIS_URL", "DATA_DIR", "LOG_DIR",
	"LOG_LEVEL", "RESILIENCE_CONFIG", "CACHE_DEFAULT_TTL",
}

func setAppEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, key := range appEnvKeys {
		t.Setenv(key, env[key])
	}
}

func TestLoadAppConfig(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		want         func(c *AppConfig)
		wantFallback bool
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: func(c *AppConfig) {},
		},
		{
			name: "REDIS_URL feeds both tiers",
			env:  map[string]string{"REDIS_URL": "redis://localhost:6379"},
			want: func(c *AppConfig) {
				c.StateURL = "redis://localhost:6379"
				c.CacheURL = "redis://localhost:6379"
			},
		},
		{
			name: "explicit urls win",
			env: map[string]string{
				"REDIS_URL":       "redis://shared:6379",
				"STATE_URL":       "postgres://u:p@db:5432/state",
				"CACHE_REDIS_URL": "rediss://cache:6380",
			},
			want: func(c *AppConfig) {
				c.StateURL = "postgres://u:p@db:5432/state"
				c.CacheURL = "rediss://cache:6380"
			},
		},
		{
			name: "all custom",
			env: map[string]string{
				"DATA_DIR":          "/var/lib/guildkeeper",
				"LOG_DIR":           "/var/log/guildkeeper",
				"LOG_LEVEL":         "debug",
				"RESILIENCE_CONFIG": "/etc/guildkeeper/resilience.yaml",
				"CACHE_DEFAULT_TTL": "90s",
			},
			want: func(c *AppConfig) {
				c.DataDir = "/var/lib/guildkeeper"
				c.LogDir = "/var/log/guildkeeper"
				c.LogLevel = "debug"
				c.ResilienceFile = "/etc/guildkeeper/resilience.yaml"
				c.CacheDefaultTTL = 90 * time.Second
			},
		},
		{
			name: "invalid state url disables networked state",
			env: map[string]string{
				"REDIS_URL": "redis://shared:6379",
				"STATE_URL": "mysql://db/state",
			},
			want: func(c *AppConfig) {
				c.CacheURL = "redis://shared:6379"
			},
			wantFallback: true,
		},
		{
			name: "invalid level and ttl fall back",
			env: map[string]string{
				"LOG_LEVEL":         "chatty",
				"CACHE_DEFAULT_TTL": "forever",
			},
			want:         func(c *AppConfig) {},
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setAppEnv(t, tt.env)
			metrics := pkgconfig.NewConfigMetrics(prometheus.NewRegistry(), "app")
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))

			want := DefaultAppConfig()
			tt.want(&want)

			assert.Equal(t, want, LoadAppConfig(logger, metrics))
			active := testutil.ToFloat64(metrics.FallbackActive)
			if tt.wantFallback {
				assert.Equal(t, 1.0, active)
			} else {
				assert.Equal(t, 0.0, active)
			}
		})
	}
}
