// Package observability groups the logging and tracing support shared by the
// resilience layer.
//
// Subpackages:
//   - logging: slog JSON loggers, run ID propagation and the rotated file sink
//   - tracing: OpenTelemetry tracer and HTTP middleware
//
// Metrics are not centralized: each component exposes NewMetrics(reg) and the
// binary registers everything on one prometheus.Registry served at /metrics.
package observability
