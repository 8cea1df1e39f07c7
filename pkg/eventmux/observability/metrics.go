package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records dispatch metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records a dispatch start with its matched handler count.
	RecordDispatch(ctx context.Context, eventType string, matched int)

	// RecordHandlerResult records one handler invocation with its outcome.
	RecordHandlerResult(ctx context.Context, eventType, outcome string, duration time.Duration)

	// RecordDispatchComplete records an entire dispatch completing.
	RecordDispatchComplete(ctx context.Context, eventType string, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	matchedGauge    metric.Int64Histogram
	invocations     metric.Int64Counter
	handlerLatency  metric.Float64Histogram
	handlerErrors   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventmux")

	dispatches, err := meter.Int64Counter("eventmux.dispatch.count",
		metric.WithDescription("Number of dispatched events"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("eventmux.dispatch.latency_ms",
		metric.WithDescription("End-to-end dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	matchedGauge, err := meter.Int64Histogram("eventmux.dispatch.matched_handlers",
		metric.WithDescription("Matched handler count per dispatch"),
	)
	if err != nil {
		return nil, err
	}

	invocations, err := meter.Int64Counter("eventmux.handler.invocations",
		metric.WithDescription("Number of handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("eventmux.handler.latency_ms",
		metric.WithDescription("Handler invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("eventmux.handler.errors",
		metric.WithDescription("Number of failed handler invocations"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		matchedGauge:    matchedGauge,
		invocations:     invocations,
		handlerLatency:  handlerLatency,
		handlerErrors:   handlerErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records a dispatch start.
func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType string, matched int) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.matchedGauge.Record(ctx, int64(matched), metric.WithAttributes(attrs...))
}

// RecordHandlerResult records one handler invocation.
func (m *otelMetrics) RecordHandlerResult(ctx context.Context, eventType, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if outcome != "ok" {
		m.handlerErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDispatchComplete records an entire dispatch completing.
func (m *otelMetrics) RecordDispatchComplete(ctx context.Context, eventType string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
