/*
Package eventmux routes CloudEvents-shaped events from producers to
pattern-matched subscribers.

# Overview

eventmux is a library-level publish/subscribe core: a concurrent-safe
subscription Registry, a Dispatcher with asynchronous and synchronous
delivery modes, and a uniform handler abstraction over functions, bound
methods, and actors. Patterns are exact event-type strings or wildcard
expressions ("*", "com.example.*", "*.closed", "a.*.c") compiled once
at subscribe time.

Failure isolation is the central contract: a panicking or erroring
handler never aborts delivery to other handlers, never crashes the
dispatcher, and never propagates to the publisher.

# Basic Usage

Subscribe handlers to patterns, then dispatch events:

	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	reg.Subscribe("com.example.order.*", handler.Func(
	    func(ctx context.Context, evt event.Event) error {
	        log.Printf("order event: %s", evt.Type())
	        return nil
	    },
	))

	mux.Dispatch(ctx, event.NewAny("com.example.order.created", "/orders", payload))

DispatchSync collects a per-handler outcome under a deadline:

	outcomes, err := mux.DispatchSync(ctx, evt,
	    eventmux.WithTimeout(2*time.Second),
	    eventmux.WithTimeoutPolicy(eventmux.TimeoutIncludeError),
	)

# Observability

Telemetry is opt-in: pass WithLogger for slog output and
WithTelemetry(true) for OpenTelemetry metrics and traces. A dead-letter
queue (package dlq) can capture failed deliveries for review.
*/
package eventmux
