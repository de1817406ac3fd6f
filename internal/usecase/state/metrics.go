package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the state store collectors. A nil *Metrics records nothing.
type Metrics struct {
	savesTotal    *prometheus.CounterVec
	loadsTotal    *prometheus.CounterVec
	snapshotBytes prometheus.Gauge
	backendInfo   *prometheus.GaugeVec
}

// NewMetrics creates the state store metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		savesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_saves_total",
				Help: "State saves by backend and status (success/failure/rejected)",
			},
			[]string{"backend", "status"},
		),
		loadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_loads_total",
				Help: "State loads by backend and result (loaded/empty/corrupt/error/rejected)",
			},
			[]string{"backend", "result"},
		),
		snapshotBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "state_snapshot_bytes",
				Help: "Size of the last successfully saved snapshot",
			},
		),
		backendInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "state_backend_info",
				Help: "Selected state backend (value is always 1)",
			},
			[]string{"backend"},
		),
	}
}

func (m *Metrics) recordSave(backend, status string, size int) {
	if m == nil {
		return
	}
	m.savesTotal.WithLabelValues(backend, status).Inc()
	if status == "success" {
		m.snapshotBytes.Set(float64(size))
	}
}

func (m *Metrics) recordLoad(backend, result string) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) setBackend(backend string) {
	if m == nil {
		return
	}
	m.backendInfo.WithLabelValues(backend).Set(1)
}
