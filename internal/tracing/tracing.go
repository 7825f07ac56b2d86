// Package tracing provides opt-in OpenTelemetry trace propagation for the
// orchestration core.
//
// When enabled, it sets up an OTLP HTTP exporter and a TracerProvider.
// When disabled, StartSpan still works against the global no-op tracer, so
// callers never need to branch on whether tracing is configured.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the OTel tracing configuration. When Enabled is false, Setup
// returns a no-op shutdown and StartSpan records against the global no-op
// tracer.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP HTTP endpoint, e.g. "localhost:4318"
	ServiceName string // resource service name, e.g. "agentcore"
}

// Setup initializes the OpenTelemetry TracerProvider with an OTLP HTTP
// exporter and installs it as the global provider.
//
// The returned shutdown function must be called (typically in a defer) to
// flush pending spans and release resources.
//
// When cfg.Enabled is false, Setup returns a no-op shutdown and nil error.
func Setup(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// tracerName identifies spans this package starts in whatever backend they
// are exported to.
const tracerName = "agentcore"

// StartSpan starts a span named component.operation against the global
// TracerProvider. Callers must call the returned end function when the
// operation completes; it is always safe to call even when tracing is
// disabled.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func()) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, component+"."+operation)
	return ctx, func() { span.End() }
}

// RecordError marks the span in ctx (if any) as failed with err.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// SpanContextFromContext returns [traceID, spanID] for ctx's active span,
// or nil if ctx carries no valid span context (tracing disabled, or no
// span was ever started). Callers that merely want to stamp a record
// with correlation ids use this instead of importing the trace package
// directly.
func SpanContextFromContext(ctx context.Context) []string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []string{sc.TraceID().String(), sc.SpanID().String()}
}
