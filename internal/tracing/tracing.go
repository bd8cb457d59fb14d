package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	tracerName  = "chatrelay/relay"
	serviceName = "chatrelay"
)

// Tracer provides OpenTelemetry spans for the relay.
type Tracer struct {
	tracer trace.Tracer
}

// New returns a tracer backed by the global provider, or a no-op tracer when
// tracing is disabled. Call Setup first so the global provider exports.
func New(enabled bool) *Tracer {
	if !enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(tracerName)}
	}
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// FromProvider returns a tracer backed by tp.
func FromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// ProviderConfig configures the SDK provider installed by Setup.
type ProviderConfig struct {
	Endpoint       string // OTLP/HTTP collector host:port
	Insecure       bool
	ServiceVersion string
	Exporter       sdktrace.SpanExporter // replaces the OTLP exporter when set
}

// Setup installs a global SDK tracer provider that batches spans to an
// OTLP/HTTP collector. Shut the returned provider down once the server has
// drained so pending spans are flushed.
func Setup(ctx context.Context, cfg ProviderConfig) (*sdktrace.TracerProvider, error) {
	exp := cfg.Exporter
	if exp == nil {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		otlp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		exp = otlp
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", cfg.ServiceVersion),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartForward starts the span covering one Forward call.
func (t *Tracer) StartForward(ctx context.Context, requestID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "relay.forward",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("relay.request_id", requestID)),
	)
}

// StartDispatch starts the span covering the outbound webhook call.
func (t *Tracer) StartDispatch(ctx context.Context, host, sessionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "relay.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("server.address", host),
			attribute.String("relay.session_id", sessionID),
		),
	)
}

// End finishes span with the response status and outcome label.
func End(span trace.Span, statusCode int, outcome string, err error) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.String("relay.outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}
