package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rpedersen/eventmux/pkg/eventmux/event"
)

// ReceiveFunc processes one event from an actor's mailbox.
type ReceiveFunc func(ctx context.Context, evt event.Event)

// Actor is a concurrent event consumer with a buffered mailbox.
// Events are posted fire-and-forget and processed one at a time by a
// dedicated goroutine. A panic in the receive function is recovered and
// logged; it stops neither the actor nor the sender.
type Actor struct {
	name    string
	receive ReceiveFunc
	mailbox chan event.Event
	quit    chan struct{}
	logger  *slog.Logger

	running  atomic.Bool
	stopOnce sync.Once
}

// ActorOption configures actor creation.
type ActorOption func(*Actor)

// WithActorLogger sets the logger used for recovered receive panics.
func WithActorLogger(logger *slog.Logger) ActorOption {
	return func(a *Actor) {
		a.logger = logger
	}
}

// NewActor creates an actor with the given mailbox buffer size.
// An empty name is replaced with a generated one. The actor does not
// process events until Start is called.
func NewActor(name string, buffer int, receive ReceiveFunc, opts ...ActorOption) *Actor {
	if receive == nil {
		panic("handler: nil receive function")
	}
	if name == "" {
		name = fmt.Sprintf("actor-%s", uuid.New().String()[:8])
	}
	if buffer <= 0 {
		buffer = 64
	}

	a := &Actor{
		name:    name,
		receive: receive,
		mailbox: make(chan event.Event, buffer),
		quit:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Name returns the actor's name.
func (a *Actor) Name() string {
	return a.name
}

// Start begins processing the mailbox. Calling Start on a running
// actor is a no-op. A stopped actor cannot be restarted.
func (a *Actor) Start() {
	if !a.running.CompareAndSwap(false, true) {
		return
	}
	go a.loop()
}

// Stop shuts the actor down. Events still in the mailbox are dropped.
// Stop is idempotent.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		a.running.Store(false)
		close(a.quit)
	})
}

// Alive reports whether the actor is currently running.
func (a *Actor) Alive() bool {
	return a.running.Load()
}

func (a *Actor) loop() {
	for {
		select {
		case evt := <-a.mailbox:
			a.deliver(evt)
		case <-a.quit:
			return
		}
	}
}

func (a *Actor) deliver(evt event.Event) {
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.Error("actor receive panicked",
				slog.String("actor", a.name),
				slog.String("event_type", evt.Type()),
				slog.Any("panic", r),
			)
		}
	}()
	a.receive(context.Background(), evt)
}

// send posts an event to the mailbox without waiting for processing.
// It returns nil once the event is enqueued, *DeadHandlerError if the
// actor is not running, and *MailboxFullError if the buffer is full.
func (a *Actor) send(evt event.Event) error {
	if !a.running.Load() {
		return &DeadHandlerError{Handler: "actor:" + a.name}
	}

	select {
	case a.mailbox <- evt:
		return nil
	case <-a.quit:
		return &DeadHandlerError{Handler: "actor:" + a.name}
	default:
		return &MailboxFullError{Handler: "actor:" + a.name}
	}
}
