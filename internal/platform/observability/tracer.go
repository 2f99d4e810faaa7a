package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer decouples the render engine from the tracing implementation.
type Tracer interface {
	// StartSpan creates a new span as a child of the span in ctx.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span)

	// SpanFromContext returns the current span from context.
	SpanFromContext(ctx context.Context) Span
}

// Span represents a unit of work in a trace.
type Span interface {
	// End completes the span. Must be called when work is done.
	End()

	// SetAttributes adds attributes to the span.
	SetAttributes(attrs ...attribute.KeyValue)

	// AddEvent records an event.
	AddEvent(name string, attrs ...attribute.KeyValue)

	// RecordError records an error without changing span status.
	RecordError(err error)

	// NoticeError records an error and sets span status to Error.
	NoticeError(err error)

	// TraceID returns the trace ID as a string.
	TraceID() string
}

// --- OTEL implementation ---

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer backed by the global OpenTelemetry provider.
func NewTracer(name string) Tracer {
	return &otelTracer{tracer: otel.Tracer(name)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindInternal)}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}

	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &otelSpan{span: span}
}

func (t *otelTracer) SpanFromContext(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

func (s *otelSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		s.span.AddEvent(name, trace.WithAttributes(attrs...))
	} else {
		s.span.AddEvent(name)
	}
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func (s *otelSpan) NoticeError(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
}

func (s *otelSpan) TraceID() string {
	return s.span.SpanContext().TraceID().String()
}

// --- Noop implementation for disabled tracing ---

type noopTracer struct{}

// NewNoopTracer returns a tracer that does nothing.
func NewNoopTracer() Tracer {
	return &noopTracer{}
}

func (t *noopTracer) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, Span) {
	return ctx, &noopSpan{}
}

func (t *noopTracer) SpanFromContext(_ context.Context) Span {
	return &noopSpan{}
}

type noopSpan struct{}

func (s *noopSpan) End()                                       {}
func (s *noopSpan) SetAttributes(_ ...attribute.KeyValue)      {}
func (s *noopSpan) AddEvent(_ string, _ ...attribute.KeyValue) {}
func (s *noopSpan) RecordError(_ error)                        {}
func (s *noopSpan) NoticeError(_ error)                        {}
func (s *noopSpan) TraceID() string                            { return "" }
