package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Name is the instrumentation scope of every guildkeeper span.
const Name = "guildkeeper"

// GetTracer returns the application tracer.
//
// The tracer is resolved from the global provider on each call, so a
// provider installed with otel.SetTracerProvider after start-up is honored.
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(Name)
}
