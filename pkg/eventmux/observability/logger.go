// Package observability provides structured logging, metrics, and
// distributed tracing for the eventmux dispatcher.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
// Returns a new logger with event_type and event_id fields.
func EnrichLogger(logger *slog.Logger, eventType, eventID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
	)
}

// LogDispatchStart logs the start of a dispatch with the matched handler count.
func LogDispatchStart(logger *slog.Logger, eventType string, matched int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting",
		slog.String("event_type", eventType),
		slog.Int("matched_handlers", matched),
	)
}

// LogHandlerResult logs one handler's delivery outcome.
func LogHandlerResult(logger *slog.Logger, handler string, durationMs float64, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("handler failed",
			slog.String("handler", handler),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("handler completed",
		slog.String("handler", handler),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchComplete logs aggregate dispatch results.
func LogDispatchComplete(logger *slog.Logger, eventType string, succeeded, failed, timedOut int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("dispatch completed",
		slog.String("event_type", eventType),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Int("timed_out", timedOut),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogFilterPanic logs a subscription filter that panicked.
// The subscription is treated as a non-match for the event.
func LogFilterPanic(logger *slog.Logger, pattern, eventType string, recovered any) {
	if logger == nil {
		return
	}
	logger.Warn("subscription filter panicked",
		slog.String("pattern", pattern),
		slog.String("event_type", eventType),
		slog.Any("panic", recovered),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
