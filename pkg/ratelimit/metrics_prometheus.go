package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements RateLimitMetrics using Prometheus.
//
// Metrics:
//   - outbound_rate_limit_checks_total{domain,status}: admitted/denied checks
//   - outbound_rate_limit_wait_seconds{domain}: time callers spent waiting for capacity
//   - outbound_rate_limit_active_requests{domain}: requests inside the window after the last admission
type PrometheusMetrics struct {
	checksTotal    *prometheus.CounterVec
	waitDuration   *prometheus.HistogramVec
	activeRequests *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the limiter metrics and registers them with reg.
//
// Passing a dedicated prometheus.NewRegistry() keeps tests isolated; production
// code passes the registry exposed on /metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_rate_limit_checks_total",
				Help: "Total rate limit checks by domain and status (allowed/denied)",
			},
			[]string{"domain", "status"},
		),
		// Buckets span the buffer-only wait (50ms) up to a full one-minute window.
		waitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outbound_rate_limit_wait_seconds",
				Help:    "Time spent waiting for rate limit capacity",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"domain"},
		),
		activeRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outbound_rate_limit_active_requests",
				Help: "Requests inside the sliding window by domain",
			},
			[]string{"domain"},
		),
	}
}

// RecordAllowed records an admitted request.
func (m *PrometheusMetrics) RecordAllowed(domain string) {
	m.checksTotal.WithLabelValues(domain, "allowed").Inc()
}

// RecordDenied records a check that found the bucket full.
func (m *PrometheusMetrics) RecordDenied(domain string) {
	m.checksTotal.WithLabelValues(domain, "denied").Inc()
}

// RecordWait records time spent suspended waiting for capacity.
func (m *PrometheusMetrics) RecordWait(domain string, d time.Duration) {
	m.waitDuration.WithLabelValues(domain).Observe(d.Seconds())
}

// SetActiveRequests records the number of requests inside the window.
func (m *PrometheusMetrics) SetActiveRequests(domain string, count int) {
	m.activeRequests.WithLabelValues(domain).Set(float64(count))
}
