// Package tracing provides the OpenTelemetry tracer used by outbound HTTP
// calls and the HTTP middleware that wraps the health server.
//
// No exporter is configured here; the composing binary installs a provider
// with otel.SetTracerProvider when tracing is wanted, otherwise spans are no-ops.
package tracing
