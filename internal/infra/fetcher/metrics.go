package fetcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeHTTPError    = "http_error"
	OutcomeRetryStatus  = "retryable_status"
	OutcomeNetworkError = "network_error"
)

// Retry reasons.
const (
	ReasonRateLimited = "rate_limited"
	ReasonServerError = "server_error"
	ReasonNetwork     = "network"
)

// Metrics holds the Prometheus collectors of the rate-limited client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	exhaustedTotal  *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
}

// NewMetrics creates the client metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_http_attempts_total",
				Help: "Outbound HTTP attempts by domain and outcome",
			},
			[]string{"domain", "outcome"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_http_retries_total",
				Help: "Outbound HTTP retries by domain and reason",
			},
			[]string{"domain", "reason"},
		),
		exhaustedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_http_retries_exhausted_total",
				Help: "Calls that failed after every attempt",
			},
			[]string{"domain"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outbound_http_attempt_duration_seconds",
				Help:    "Duration of a single outbound HTTP attempt until headers arrive",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"domain"},
		),
	}
}

func (m *Metrics) recordAttempt(domain, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(domain, outcome).Inc()
	m.attemptDuration.WithLabelValues(domain).Observe(d.Seconds())
}

func (m *Metrics) recordRetry(domain, reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(domain, reason).Inc()
}

func (m *Metrics) recordExhausted(domain string) {
	if m == nil {
		return
	}
	m.exhaustedTotal.WithLabelValues(domain).Inc()
}
