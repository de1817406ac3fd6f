package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics tracks scheduled job execution.
//
// Metrics:
//   - worker_job_runs_total{job,status}: runs by outcome (success/failure)
//   - worker_job_duration_seconds{job}: run duration
//   - worker_job_last_success_timestamp{job}: Unix time of the last successful run
//   - worker_jobs_registered: number of registered jobs
//
// All methods are safe on a nil receiver.
type WorkerMetrics struct {
	jobRunsTotal       *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobLastSuccess     *prometheus.GaugeVec
	jobsRegistered prometheus.Gauge
}

// NewWorkerMetrics creates the worker metrics and registers them with reg.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	factory := promauto.With(reg)

	return &WorkerMetrics{
		jobRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_job_runs_total",
				Help: "Total scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),
		// Maintenance jobs are short; the top bucket matches the default job timeout.
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_job_duration_seconds",
				Help:    "Duration of scheduled job runs",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"job"},
		),
		jobLastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "worker_job_last_success_timestamp",
				Help: "Unix timestamp of the last successful run",
			},
			[]string{"job"},
		),
		jobsRegistered: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "worker_jobs_registered",
				Help: "Number of registered jobs",
			},
		),
	}
}

// RecordJobRun counts one run with status "success" or "failure".
func (m *WorkerMetrics) RecordJobRun(job, status string) {
	if m == nil {
		return
	}
	m.jobRunsTotal.WithLabelValues(job, status).Inc()
}

// RecordJobDuration observes the duration of one run.
func (m *WorkerMetrics) RecordJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordLastSuccess sets the last success timestamp of job to now.
func (m *WorkerMetrics) RecordLastSuccess(job string) {
	if m == nil {
		return
	}
	m.jobLastSuccess.WithLabelValues(job).SetToCurrentTime()
}

// SetJobsRegistered records the number of registered jobs.
func (m *WorkerMetrics) SetJobsRegistered(n int) {
	if m == nil {
		return
	}
	m.jobsRegistered.Set(float64(n))
}
