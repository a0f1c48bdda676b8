package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer scoped to one LLM call, Coder step,
// or tool execution at a time. When no OTLP endpoint is configured, Start
// returns a no-op span rather than failing — tracing is additive, never a
// startup requirement.
type Tracer struct {
	tracer trace.Tracer
}

// TraceConfig configures OTLP export. An empty Endpoint disables export.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	EnableInsecure bool
}

// NewTracer builds a Tracer and a shutdown func that flushes the exporter.
// If config.Endpoint is empty, the shutdown func is a no-op.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "kestrel"
	}
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, func(context.Context) error { return nil }
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown
}

// Start opens a span, returning the derived context alongside it.
func (t *Tracer) Start(ctx context.Context, name string, kind trace.SpanKind) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind))
}

// RecordError marks span as failed and attaches err.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceLLMCall opens a span for one Provider.Complete invocation.
func (t *Tracer) TraceLLMCall(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, fmt.Sprintf("llm.%s", provider), trace.SpanKindClient)
	span.SetAttributes(attribute.String("llm.provider", provider), attribute.String("llm.model", model))
	return ctx, span
}

// TraceToolCall opens a span for one tool Call invocation.
func (t *Tracer) TraceToolCall(ctx context.Context, toolName, taskID string) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, fmt.Sprintf("tool.%s", toolName), trace.SpanKindInternal)
	span.SetAttributes(attribute.String("tool.name", toolName), attribute.String("task.id", taskID))
	return ctx, span
}

// TraceCoderStep opens a span for one Coder loop iteration.
func (t *Tracer) TraceCoderStep(ctx context.Context, taskID string, step int) (context.Context, trace.Span) {
	ctx, span := t.Start(ctx, "coder.step", trace.SpanKindInternal)
	span.SetAttributes(attribute.String("task.id", taskID), attribute.Int("coder.step", step))
	return ctx, span
}
