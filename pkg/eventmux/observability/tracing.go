package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the eventmux tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("eventmux")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDispatchSpan starts a span for an entire dispatch.
	StartDispatchSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span)

	// StartHandlerSpan starts a span for one handler invocation.
	// The handler span should be a child of the dispatch span.
	StartHandlerSpan(ctx context.Context, handler string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartDispatchSpan starts a span for an entire dispatch.
func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventmux.dispatch",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartHandlerSpan starts a span for one handler invocation.
func (m *otelSpanManager) StartHandlerSpan(ctx context.Context, handler string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventmux.handler",
		trace.WithAttributes(
			attribute.String("handler", handler),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, recording the error if non-nil.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Package-level convenience wrappers over a shared otelSpanManager.

var defaultSpanManager = &otelSpanManager{}

// StartDispatchSpan starts a span for an entire dispatch using the
// global tracer provider.
func StartDispatchSpan(ctx context.Context, eventType, eventID string) (context.Context, trace.Span) {
	return defaultSpanManager.StartDispatchSpan(ctx, eventType, eventID)
}

// StartHandlerSpan starts a span for one handler invocation using the
// global tracer provider.
func StartHandlerSpan(ctx context.Context, handler string) (context.Context, trace.Span) {
	return defaultSpanManager.StartHandlerSpan(ctx, handler)
}

// EndSpanWithError completes a span, recording the error if non-nil.
func EndSpanWithError(span trace.Span, err error) {
	defaultSpanManager.EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	defaultSpanManager.AddSpanEvent(ctx, name, attrs...)
}
