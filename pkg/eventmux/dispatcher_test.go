package eventmux_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	eventmux "github.com/rpedersen/eventmux/pkg/eventmux"
	"github.com/rpedersen/eventmux/pkg/eventmux/config"
	"github.com/rpedersen/eventmux/pkg/eventmux/dlq"
	"github.com/rpedersen/eventmux/pkg/eventmux/event"
	"github.com/rpedersen/eventmux/pkg/eventmux/handler"
)

// recordingMetrics counts dispatch recordings for option wiring tests.
type recordingMetrics struct {
	dispatches atomic.Int32
}

func (m *recordingMetrics) RecordDispatch(_ context.Context, _ string, _ int) {
	m.dispatches.Add(1)
}

func (m *recordingMetrics) RecordHandlerResult(_ context.Context, _, _ string, _ time.Duration) {}

func (m *recordingMetrics) RecordDispatchComplete(_ context.Context, _ string, _ time.Duration) {}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDispatchSyncTwoHandlers(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	var gotA, gotB atomic.Int32
	a := handler.Func(func(ctx context.Context, evt event.Event) error {
		gotA.Add(1)
		return nil
	})
	b := handler.Func(func(ctx context.Context, evt event.Event) error {
		gotB.Add(1)
		return nil
	})

	if _, err := reg.Subscribe("com.example.created", a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Subscribe("com.example.created", b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := event.NewAny("com.example.created", "/t", map[string]any{},
		event.WithID("1"))
	outcomes, err := mux.DispatchSync(context.Background(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for id, o := range outcomes {
		if !o.OK() {
			t.Errorf("expected Ok outcome for %s, got %s (%v)", id, o.Status, o.Err)
		}
	}
	if gotA.Load() != 1 || gotB.Load() != 1 {
		t.Errorf("expected both handlers invoked once, got %d and %d", gotA.Load(), gotB.Load())
	}
}

func TestDispatchSyncHandlerError(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	failing := handler.Func(func(ctx context.Context, evt event.Event) error {
		return errors.New("write rejected")
	})
	panicking := handler.Func(func(ctx context.Context, evt event.Event) error {
		panic("handler bug")
	})
	healthy := handler.Func(func(ctx context.Context, evt event.Event) error {
		return nil
	})

	reg.Subscribe("test.event", failing)
	reg.Subscribe("test.event", panicking)
	reg.Subscribe("test.event", healthy)

	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil))
	if err != nil {
		t.Fatalf("handler failures must never surface as a call error, got %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	okCount, errCount := 0, 0
	for _, o := range outcomes {
		switch o.Status {
		case eventmux.StatusOK:
			okCount++
		case eventmux.StatusError:
			errCount++
			var herr *handler.HandlerError
			if !errors.As(o.Err, &herr) {
				t.Errorf("expected *HandlerError outcome, got %T", o.Err)
			}
		}
	}
	if okCount != 1 || errCount != 2 {
		t.Errorf("expected 1 ok and 2 errors, got %d and %d", okCount, errCount)
	}
}

func TestDispatchSyncTimeout(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	release := make(chan struct{})
	defer close(release)

	slow := handler.Func(func(ctx context.Context, evt event.Event) error {
		<-release
		return nil
	})
	fastA := handler.Func(func(ctx context.Context, evt event.Event) error { return nil })
	fastB := handler.Func(func(ctx context.Context, evt event.Event) error { return nil })

	reg.Subscribe("test.event", slow)
	reg.Subscribe("test.event", fastA)
	reg.Subscribe("test.event", fastB)

	timeout := 100 * time.Millisecond
	start := time.Now()
	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil),
		eventmux.WithTimeout(timeout),
		eventmux.WithTimeoutPolicy(eventmux.TimeoutIncludeError),
	)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Handlers run in parallel: total latency tracks the timeout, not 3x.
	if elapsed < timeout || elapsed > 3*timeout {
		t.Errorf("expected wall clock near the timeout, got %v", elapsed)
	}

	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	timedOut := outcomes[slow.Identity()]
	if timedOut.Status != eventmux.StatusTimeout {
		t.Errorf("expected timeout outcome for slow handler, got %s", timedOut.Status)
	}
	var terr *eventmux.TimeoutError
	if !errors.As(timedOut.Err, &terr) {
		t.Errorf("expected *TimeoutError, got %T", timedOut.Err)
	}

	for _, h := range []handler.Handler{fastA, fastB} {
		if o := outcomes[h.Identity()]; !o.OK() {
			t.Errorf("expected fast handler to succeed, got %s", o.Status)
		}
	}
}

func TestDispatchSyncTimeoutOmit(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	release := make(chan struct{})
	defer close(release)

	slow := handler.Func(func(ctx context.Context, evt event.Event) error {
		<-release
		return nil
	})
	fast := handler.Func(func(ctx context.Context, evt event.Event) error { return nil })

	reg.Subscribe("test.event", slow)
	reg.Subscribe("test.event", fast)

	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil),
		eventmux.WithTimeout(50*time.Millisecond),
		eventmux.WithTimeoutPolicy(eventmux.TimeoutOmit),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("expected the timed-out handler to be omitted, got %d outcomes", len(outcomes))
	}
	if o := outcomes[fast.Identity()]; !o.OK() {
		t.Errorf("expected fast handler outcome, got %s", o.Status)
	}
}

func TestDispatchSyncInvalidTimeout(t *testing.T) {
	mux := eventmux.New(nil)

	_, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil),
		eventmux.WithTimeout(0),
	)
	var cfgErr *eventmux.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}

	_, err = mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil),
		eventmux.WithTimeout(-time.Second),
	)
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError for negative timeout, got %T", err)
	}
}

func TestDispatchSyncUnknownPolicy(t *testing.T) {
	mux := eventmux.New(nil)

	_, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil),
		eventmux.WithTimeoutPolicy("bogus"),
	)
	var cfgErr *eventmux.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestDispatchSyncFilter(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	var invoked atomic.Int32
	h := handler.Func(func(ctx context.Context, evt event.Event) error {
		invoked.Add(1)
		return nil
	})

	reg.Subscribe("order.*", h, eventmux.WithFilter(func(evt event.Event) bool {
		return evt.Subject() == "priority"
	}))

	outcomes, err := mux.DispatchSync(context.Background(),
		event.NewAny("order.created", "/t", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 0 || invoked.Load() != 0 {
		t.Errorf("expected filter to exclude the handler, got %d outcomes", len(outcomes))
	}

	outcomes, err = mux.DispatchSync(context.Background(),
		event.NewAny("order.created", "/t", nil, event.WithSubject("priority")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 || invoked.Load() != 1 {
		t.Errorf("expected filter to pass the handler, got %d outcomes", len(outcomes))
	}
}

func TestDispatchSyncFilterPanicIsNonMatch(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	var invoked atomic.Int32
	h := handler.Func(func(ctx context.Context, evt event.Event) error {
		invoked.Add(1)
		return nil
	})
	other := handler.Func(func(ctx context.Context, evt event.Event) error {
		invoked.Add(1)
		return nil
	})

	reg.Subscribe("test.event", h, eventmux.WithFilter(func(evt event.Event) bool {
		panic("filter bug")
	}))
	reg.Subscribe("test.event", other)

	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil))
	if err != nil {
		t.Fatalf("a panicking filter must not fail the dispatch, got %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected only the unfiltered handler, got %d outcomes", len(outcomes))
	}
	if invoked.Load() != 1 {
		t.Errorf("expected 1 invocation, got %d", invoked.Load())
	}
}

func TestDispatchSyncActorResolvesImmediately(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	// The actor takes far longer than the timeout to process, but
	// fire-and-forget delivery resolves as soon as the send succeeds.
	block := make(chan struct{})
	defer close(block)
	actor := handler.NewActor("slow-actor", 8, func(ctx context.Context, evt event.Event) {
		<-block
	})
	actor.Start()
	defer actor.Stop()

	ref := handler.ActorRef(actor)
	reg.Subscribe("test.event", ref)

	start := time.Now()
	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil),
		eventmux.WithTimeout(500*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("expected immediate resolution for actor delivery, took %v", elapsed)
	}
	if o := outcomes[ref.Identity()]; !o.OK() {
		t.Errorf("expected Ok delivery outcome, got %s (%v)", o.Status, o.Err)
	}
}

func TestDispatchSyncDeadActor(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	actor := handler.NewActor("stopped", 8, func(ctx context.Context, evt event.Event) {})
	ref := handler.ActorRef(actor) // never started

	reg.Subscribe("test.event", ref)

	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o := outcomes[ref.Identity()]
	if o.Status != eventmux.StatusError {
		t.Fatalf("expected error outcome for dead actor, got %s", o.Status)
	}
	var dead *handler.DeadHandlerError
	if !errors.As(o.Err, &dead) {
		t.Errorf("expected *DeadHandlerError, got %T", o.Err)
	}
}

func TestDispatchAsync(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	var received atomic.Int32
	for i := 0; i < 3; i++ {
		reg.Subscribe("test.event", handler.Func(func(ctx context.Context, evt event.Event) error {
			received.Add(1)
			return nil
		}))
	}

	mux.Dispatch(context.Background(), event.NewAny("test.event", "/t", nil))

	waitFor(t, func() bool { return received.Load() == 3 },
		"expected all handlers to receive the event")
}

func TestDispatchAsyncIsolatesFailures(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	var received atomic.Int32
	reg.Subscribe("test.event", handler.Func(func(ctx context.Context, evt event.Event) error {
		panic("handler bug")
	}))
	reg.Subscribe("test.event", handler.Func(func(ctx context.Context, evt event.Event) error {
		received.Add(1)
		return nil
	}))

	// Must not panic the caller, and the healthy handler still runs.
	mux.Dispatch(context.Background(), event.NewAny("test.event", "/t", nil))

	waitFor(t, func() bool { return received.Load() == 1 },
		"expected healthy handler to run despite the panicking one")
}

func TestDispatchAsyncDeadLetter(t *testing.T) {
	queue := dlq.NewMemoryQueue(100)
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg, eventmux.WithDeadLetter(queue))

	reg.Subscribe("test.event", handler.Func(func(ctx context.Context, evt event.Event) error {
		return errors.New("storage offline")
	}))

	evt := event.NewAny("test.event", "/t", map[string]any{"k": "v"}, event.WithID("evt-dlq"))
	mux.Dispatch(context.Background(), evt)

	waitFor(t, func() bool {
		n, _ := queue.Count(context.Background())
		return n == 1
	}, "expected failed delivery in the dead letter queue")

	failed, err := queue.Dequeue(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 1 || failed[0].EventID != "evt-dlq" {
		t.Fatalf("unexpected dead letter contents: %+v", failed)
	}
	if failed[0].EventType != "test.event" || failed[0].ErrorMessage == "" {
		t.Errorf("expected failure details, got %+v", failed[0])
	}
}

func TestDispatchSyncDeadLetterSharedEvent(t *testing.T) {
	queue := dlq.NewMemoryQueue(100)
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg, eventmux.WithDeadLetter(queue))

	// Two failing handlers record the same event concurrently; both
	// serialize its payload on the way into the queue.
	for i := 0; i < 2; i++ {
		reg.Subscribe("test.event", handler.Func(func(ctx context.Context, evt event.Event) error {
			return errors.New("storage offline")
		}))
	}

	evt := event.NewAny("test.event", "/t", map[string]any{"k": "v"}, event.WithID("evt-shared"))
	outcomes, err := mux.DispatchSync(context.Background(), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, o := range outcomes {
		if o.Status != eventmux.StatusError {
			t.Errorf("expected error outcome, got %s", o.Status)
		}
	}

	failed, err := queue.Dequeue(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected both failures coalesced on one event, got %d entries", len(failed))
	}
	if failed[0].AttemptCount != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", failed[0].AttemptCount)
	}
}

func TestDispatchNoSubscribers(t *testing.T) {
	mux := eventmux.New(nil)

	// No handlers registered is not an error.
	mux.Dispatch(context.Background(), event.NewAny("test.event", "/t", nil))

	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("expected empty outcome map, got %d", len(outcomes))
	}
}

func TestAgentCount(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	reg.Subscribe("com.example.created", noopHandler())
	reg.Subscribe("com.example.*", noopHandler())
	reg.Subscribe("*.closed", noopHandler())

	if got := mux.AgentCount("com.example.created"); got != 2 {
		t.Errorf("expected 2 agents, got %d", got)
	}
	if got := mux.AgentCount("com.example.closed"); got != 2 {
		t.Errorf("expected 2 agents, got %d", got)
	}
	if got := mux.AgentCount("other.created"); got != 0 {
		t.Errorf("expected 0 agents, got %d", got)
	}
}

func TestDispatchSyncMethodHandler(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg)

	sink := &countingSink{}
	h, err := handler.Method(sink, "Store")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg.Subscribe("audit.*", h)

	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("audit.write", "/t", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o := outcomes[h.Identity()]; !o.OK() {
		t.Errorf("expected Ok outcome, got %s (%v)", o.Status, o.Err)
	}
	if sink.len() != 1 {
		t.Errorf("expected method handler to record the event, got %d", sink.len())
	}
}

func TestFromConfigLeavesAbsentKeysAlone(t *testing.T) {
	reg := eventmux.NewRegistry()
	rec := &recordingMetrics{}

	// The map carries only a timeout; the custom recorder set before
	// FromConfig must survive it.
	cfg := config.New(map[string]any{"default_timeout": "50ms"})
	mux := eventmux.New(reg,
		eventmux.WithMetrics(rec),
		eventmux.FromConfig(cfg),
	)

	release := make(chan struct{})
	defer close(release)
	slow := handler.Func(func(ctx context.Context, evt event.Event) error {
		<-release
		return nil
	})
	reg.Subscribe("test.event", slow)

	start := time.Now()
	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected configured timeout to apply, took %v", elapsed)
	}
	if o := outcomes[slow.Identity()]; o.Status != eventmux.StatusTimeout {
		t.Errorf("expected timeout outcome, got %s", o.Status)
	}

	if rec.dispatches.Load() == 0 {
		t.Error("expected custom metrics recorder to remain wired")
	}
}

func TestDispatchSyncDefaultTimeoutOption(t *testing.T) {
	reg := eventmux.NewRegistry()
	mux := eventmux.New(reg, eventmux.WithDefaultTimeout(50*time.Millisecond))

	release := make(chan struct{})
	defer close(release)
	slow := handler.Func(func(ctx context.Context, evt event.Event) error {
		<-release
		return nil
	})
	reg.Subscribe("test.event", slow)

	start := time.Now()
	outcomes, err := mux.DispatchSync(context.Background(), event.NewAny("test.event", "/t", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected configured default timeout to apply, took %v", elapsed)
	}
	if o := outcomes[slow.Identity()]; o.Status != eventmux.StatusTimeout {
		t.Errorf("expected timeout outcome, got %s", o.Status)
	}
}
