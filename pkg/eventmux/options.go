package eventmux

import (
	"log/slog"
	"time"

	"github.com/rpedersen/eventmux/pkg/eventmux/config"
	"github.com/rpedersen/eventmux/pkg/eventmux/dlq"
	"github.com/rpedersen/eventmux/pkg/eventmux/observability"
)

// DefaultTimeout bounds DispatchSync when no timeout option is given.
const DefaultTimeout = 5 * time.Second

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithDefaultTimeout sets the DispatchSync timeout used when a call
// passes no WithTimeout option.
func WithDefaultTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.defaultTimeout = d
		}
	}
}

// WithLogger sets the structured logger for delivery telemetry.
// A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(dp *Dispatcher) {
		dp.logger = logger
	}
}

// WithTelemetry toggles OpenTelemetry metrics and tracing.
// When enabled the dispatcher uses the global OTel providers; when
// disabled it uses no-op implementations. WithMetrics and
// WithSpanManager override either choice.
func WithTelemetry(enabled bool) Option {
	return func(dp *Dispatcher) {
		if enabled {
			dp.metrics = observability.NewMetricsRecorder()
			dp.spans = observability.NewSpanManager()
		} else {
			dp.metrics = observability.NoopMetrics{}
			dp.spans = observability.NoopSpanManager{}
		}
	}
}

// WithMetrics sets a custom metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) Option {
	return func(dp *Dispatcher) {
		if rec != nil {
			dp.metrics = rec
		}
	}
}

// WithSpanManager sets a custom span manager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(dp *Dispatcher) {
		if sm != nil {
			dp.spans = sm
		}
	}
}

// WithDeadLetter attaches a dead-letter queue. Failed deliveries are
// enqueued best-effort; an enqueue failure is logged, never raised.
func WithDeadLetter(q dlq.Queue) Option {
	return func(dp *Dispatcher) {
		dp.deadLetter = q
	}
}

// FromConfig applies dispatcher settings from a configuration map.
//
// Recognized keys:
//   - "default_timeout": duration (string or seconds)
//   - "telemetry": bool
//
// Absent keys leave the dispatcher's existing settings untouched, so
// FromConfig composes with other options in any order.
func FromConfig(cfg config.Config) Option {
	return func(dp *Dispatcher) {
		if cfg.Has("default_timeout") {
			WithDefaultTimeout(cfg.Duration("default_timeout", dp.defaultTimeout))(dp)
		}
		if cfg.Has("telemetry") {
			WithTelemetry(cfg.Bool("telemetry", false))(dp)
		}
	}
}

// DispatchOption configures one DispatchSync call.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	timeout time.Duration
	policy  TimeoutPolicy
}

// WithTimeout bounds the DispatchSync call. Handlers run in parallel,
// so the bound applies to the call as a whole, not per handler in
// sequence. A non-positive value is a configuration error.
func WithTimeout(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) {
		o.timeout = d
	}
}

// WithTimeoutPolicy controls whether timed-out handlers appear in the
// result map as error entries or are omitted.
func WithTimeoutPolicy(p TimeoutPolicy) DispatchOption {
	return func(o *dispatchOptions) {
		o.policy = p
	}
}
