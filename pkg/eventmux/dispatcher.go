package eventmux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpedersen/eventmux/pkg/eventmux/dlq"
	"github.com/rpedersen/eventmux/pkg/eventmux/event"
	"github.com/rpedersen/eventmux/pkg/eventmux/handler"
	"github.com/rpedersen/eventmux/pkg/eventmux/observability"
)

// Dispatcher routes published events to every matching, filter-passing
// handler, with per-handler failure isolation.
//
// A Dispatcher holds no per-dispatch state beyond its Registry
// reference and configuration; concurrent dispatches never serialize
// against each other.
type Dispatcher struct {
	registry       *Registry
	defaultTimeout time.Duration
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	deadLetter     dlq.Queue
}

// New creates a Dispatcher over the given registry.
// A nil registry gets a fresh empty one. Telemetry defaults to off.
func New(registry *Registry, opts ...Option) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}

	d := &Dispatcher{
		registry:       registry,
		defaultTimeout: DefaultTimeout,
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Registry returns the dispatcher's subscription registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// AgentCount returns the number of subscriptions that would receive an
// event of the given type.
func (d *Dispatcher) AgentCount(eventType string) int {
	return len(d.registry.FindHandlers(eventType))
}

// Dispatch delivers an event to all matching handlers asynchronously.
//
// It returns as soon as every invocation has been initiated. Handler
// failures are contained per handler and observable only through
// telemetry and the dead-letter queue; nothing propagates to the
// caller. There is no timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, evt event.Event) {
	matches := d.registry.FindHandlers(evt.Type())

	ctx, span := d.spans.StartDispatchSpan(ctx, evt.Type(), evt.ID())
	d.metrics.RecordDispatch(ctx, evt.Type(), len(matches))
	observability.LogDispatchStart(d.logger, evt.Type(), len(matches))

	start := time.Now()

	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64

	for _, m := range matches {
		if !d.applyFilter(m, evt) {
			continue
		}

		wg.Add(1)
		go func(m Match) {
			defer wg.Done()
			if err := d.invoke(ctx, m, evt); err != nil {
				failed.Add(1)
			} else {
				succeeded.Add(1)
			}
		}(m)
	}

	// Aggregate telemetry once the fan-out drains. The caller is not
	// kept waiting on this.
	go func() {
		wg.Wait()
		elapsed := time.Since(start)
		d.metrics.RecordDispatchComplete(ctx, evt.Type(), elapsed)
		observability.LogDispatchComplete(d.logger, evt.Type(),
			int(succeeded.Load()), int(failed.Load()), 0,
			float64(elapsed.Milliseconds()))
		d.spans.EndSpanWithError(span, nil)
	}()
}

// DispatchSync delivers an event to all matching handlers concurrently
// and collects a per-handler outcome under a single deadline.
//
// The result map is keyed by handler identity. Handler failures appear
// only inside the map, never as the function-level error; the error
// return is reserved for invalid dispatch options. Handlers that do
// not resolve before the timeout are recorded per the TimeoutPolicy.
//
// Actor handlers resolve immediately with the mailbox delivery result:
// fire-and-forget sends carry no processing confirmation to wait on.
func (d *Dispatcher) DispatchSync(ctx context.Context, evt event.Event, opts ...DispatchOption) (map[handler.Identity]Outcome, error) {
	cfg := dispatchOptions{
		timeout: d.defaultTimeout,
		policy:  TimeoutIncludeError,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.timeout <= 0 {
		return nil, &ConfigError{Message: fmt.Sprintf("timeout must be positive, got %v", cfg.timeout)}
	}
	switch cfg.policy {
	case TimeoutIncludeError, TimeoutOmit:
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown timeout policy %q", cfg.policy)}
	}

	matches := d.registry.FindHandlers(evt.Type())

	ctx, span := d.spans.StartDispatchSpan(ctx, evt.Type(), evt.ID())
	d.metrics.RecordDispatch(ctx, evt.Type(), len(matches))
	observability.LogDispatchStart(d.logger, evt.Type(), len(matches))

	start := time.Now()

	surviving := make([]Match, 0, len(matches))
	for _, m := range matches {
		if d.applyFilter(m, evt) {
			surviving = append(surviving, m)
		}
	}

	type result struct {
		id       handler.Identity
		err      error
		duration time.Duration
	}

	results := make(chan result, len(surviving))
	pending := make(map[handler.Identity]struct{}, len(surviving))

	for _, m := range surviving {
		pending[m.Handler.Identity()] = struct{}{}
		go func(m Match) {
			s := time.Now()
			err := d.invoke(ctx, m, evt)
			results <- result{id: m.Handler.Identity(), err: err, duration: time.Since(s)}
		}(m)
	}

	outcomes := make(map[handler.Identity]Outcome, len(surviving))
	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	remaining := len(surviving)
collect:
	for remaining > 0 {
		select {
		case res := <-results:
			remaining--
			delete(pending, res.id)
			if res.err != nil {
				outcomes[res.id] = Outcome{Status: StatusError, Err: res.err, Duration: res.duration}
			} else {
				outcomes[res.id] = Outcome{Status: StatusOK, Duration: res.duration}
			}
		case <-timer.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	timedOut := len(pending)
	for id := range pending {
		d.metrics.RecordHandlerResult(ctx, evt.Type(), string(StatusTimeout), cfg.timeout)
		if cfg.policy == TimeoutOmit {
			continue
		}
		outcomes[id] = Outcome{
			Status:   StatusTimeout,
			Err:      &TimeoutError{Handler: id.String(), After: cfg.timeout},
			Duration: cfg.timeout,
		}
	}

	var succeeded, failedCount int
	for _, o := range outcomes {
		switch o.Status {
		case StatusOK:
			succeeded++
		case StatusError:
			failedCount++
		}
	}

	elapsed := time.Since(start)
	d.metrics.RecordDispatchComplete(ctx, evt.Type(), elapsed)
	observability.LogDispatchComplete(d.logger, evt.Type(),
		succeeded, failedCount, timedOut, float64(elapsed.Milliseconds()))
	d.spans.EndSpanWithError(span, nil)

	return outcomes, nil
}

// invoke delivers the event to one handler with failure isolation and
// per-handler telemetry. A non-nil return is the handler's contained
// failure, never a dispatcher failure.
func (d *Dispatcher) invoke(ctx context.Context, m Match, evt event.Event) error {
	name := m.Handler.Identity().String()

	hctx, hspan := d.spans.StartHandlerSpan(ctx, name)
	start := time.Now()
	err := m.Handler.Invoke(hctx, evt)
	elapsed := time.Since(start)
	d.spans.EndSpanWithError(hspan, err)

	outcome := string(StatusOK)
	if err != nil {
		outcome = string(StatusError)
	}
	d.metrics.RecordHandlerResult(ctx, evt.Type(), outcome, elapsed)
	observability.LogHandlerResult(d.logger, name, float64(elapsed.Milliseconds()), err)

	if err != nil && d.deadLetter != nil {
		failed := dlq.NewFailedDelivery(evt, err, name)
		if dlqErr := d.deadLetter.Enqueue(context.Background(), failed); dlqErr != nil && d.logger != nil {
			d.logger.Warn("dead letter enqueue failed",
				slog.String("event_id", evt.ID()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	return err
}

// applyFilter evaluates a subscription's optional filter.
// A panicking filter counts as a non-match and is logged.
func (d *Dispatcher) applyFilter(m Match, evt event.Event) (pass bool) {
	if m.Filter == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			observability.LogFilterPanic(d.logger, m.Pattern, evt.Type(), r)
			pass = false
		}
	}()
	return m.Filter(evt)
}
