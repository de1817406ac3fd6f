package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results.
const (
	ResultHit       = "hit"
	ResultRemoteHit = "remote_hit"
	ResultMiss      = "miss"
	ResultStale     = "stale"
	ResultError     = "error"
)

// Metrics holds the cache collectors. A nil *Metrics records nothing.
type Metrics struct {
	lookupsTotal *prometheus.CounterVec
	remoteErrors *prometheus.CounterVec
	entries      *prometheus.GaugeVec
}

// NewMetrics creates the cache metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		lookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
		remoteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_remote_errors_total",
				Help: "Remote tier errors treated as a miss",
			},
			[]string{"operation"},
		),
		entries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cache_entries",
				Help: "Local cache entries by state after the last sweep",
			},
			[]string{"state"},
		),
	}
}

func (m *Metrics) recordLookup(result string) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordRemoteError(operation string) {
	if m == nil {
		return
	}
	m.remoteErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) setEntries(active, expired int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues("active").Set(float64(active))
	m.entries.WithLabelValues("expired").Set(float64(expired))
}
