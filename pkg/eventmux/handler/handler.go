// Package handler represents "something that can receive an event"
// uniformly regardless of shape.
//
// Four shapes are supported: a plain function (Func), a bound method
// resolved by name (Method), a bound method with extra call arguments
// (MethodWithArgs), and a reference to a running actor (ActorRef).
// All shapes are resolved at construction time, not re-inspected at
// dispatch time.
//
// Invoke contains failures: a panic inside a function or method handler
// is recovered at the boundary and converted to *HandlerError, so a
// misbehaving handler can never crash the dispatch loop.
package handler

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rpedersen/eventmux/pkg/eventmux/event"
)

// Kind identifies the shape of a handler.
type Kind string

// Handler shape constants.
const (
	KindFunc   Kind = "func"
	KindMethod Kind = "method"
	KindActor  Kind = "actor"
)

// Handler is the uniform invocation contract over all handler shapes.
type Handler interface {
	// Invoke delivers the event to the underlying target.
	// A nil return means the event was accepted. Failures are reported
	// as *HandlerError (function/method failure or panic) or
	// *DeadHandlerError (actor no longer running) and never as a panic.
	Invoke(ctx context.Context, evt event.Event) error

	// Alive reports whether the handler can currently receive events.
	// Function and method handlers are always alive.
	Alive() bool

	// Identity returns the comparable identity key for this handler.
	Identity() Identity
}

// Identity is a comparable key identifying a handler target.
// It is used for reverse lookups, never for routing.
//
// Two Func handlers wrapping the same function compare equal. Closures
// share the code entry point of their literal, so distinct closures
// created from the same literal also compare equal. Method handlers
// compare by (receiver, method name); extra call arguments are excluded,
// so MethodWithArgs over the same method is the same identity.
type Identity struct {
	Kind     Kind
	Receiver any    // receiver or actor pointer; nil for funcs
	Method   string // method name; empty for funcs and actors
	entry    uintptr
}

// String returns a human-readable form for logging and telemetry.
func (id Identity) String() string {
	switch id.Kind {
	case KindFunc:
		return fmt.Sprintf("func@0x%x", id.entry)
	case KindMethod:
		return fmt.Sprintf("%T.%s", id.Receiver, id.Method)
	case KindActor:
		if a, ok := id.Receiver.(*Actor); ok {
			return "actor:" + a.Name()
		}
		return fmt.Sprintf("actor@%p", id.Receiver)
	}
	return "unknown"
}

// Func wraps a function as a Handler.
func Func(fn func(ctx context.Context, evt event.Event) error) Handler {
	if fn == nil {
		panic("handler: nil function")
	}
	return &funcHandler{
		fn: fn,
		id: Identity{
			Kind:  KindFunc,
			entry: reflect.ValueOf(fn).Pointer(),
		},
	}
}

type funcHandler struct {
	fn func(ctx context.Context, evt event.Event) error
	id Identity
}

func (h *funcHandler) Invoke(ctx context.Context, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Handler: h.id.String(), Recovered: r}
		}
	}()

	if callErr := h.fn(ctx, evt); callErr != nil {
		return &HandlerError{Handler: h.id.String(), Err: callErr}
	}
	return nil
}

func (h *funcHandler) Alive() bool        { return true }
func (h *funcHandler) Identity() Identity { return h.id }

// Method wraps a named method on a receiver as a Handler.
// The method is resolved by reflection at construction time and must
// accept the event, optionally preceded by a context.Context. A final
// error result, if present, is used as the invocation outcome.
func Method(receiver any, name string) (Handler, error) {
	return MethodWithArgs(receiver, name)
}

// MethodWithArgs wraps a named method with extra trailing call arguments.
// The method signature must be
//
//	func (recv) Name([ctx context.Context,] evt E, args...) [error]
//
// where E is a type the dispatched event is assignable to. The extra
// arguments are bound once at construction.
//
// The receiver becomes part of the handler's identity, so it must be of
// a comparable type. Pointer receivers always are; value receivers with
// slice, map, or function fields are rejected here.
func MethodWithArgs(receiver any, name string, args ...any) (Handler, error) {
	if receiver == nil {
		return nil, fmt.Errorf("handler: nil receiver")
	}
	if !reflect.TypeOf(receiver).Comparable() {
		return nil, fmt.Errorf("handler: receiver type %T is not comparable", receiver)
	}

	rv := reflect.ValueOf(receiver)
	m := rv.MethodByName(name)
	if !m.IsValid() {
		return nil, fmt.Errorf("handler: %T has no method %q", receiver, name)
	}

	mt := m.Type()
	wantsCtx := mt.NumIn() > 0 && mt.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem()

	base := 1
	if wantsCtx {
		base = 2
	}
	if mt.NumIn() != base+len(args) {
		return nil, fmt.Errorf("handler: %T.%s takes %d arguments, need %d",
			receiver, name, mt.NumIn(), base+len(args))
	}

	// Bind extra arguments once. Nil placeholders become the zero value
	// of the parameter type.
	bound := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			bound[i] = reflect.Zero(mt.In(base + i))
		} else {
			bound[i] = reflect.ValueOf(arg)
		}
	}

	return &methodHandler{
		fn:       m,
		args:     bound,
		wantsCtx: wantsCtx,
		id: Identity{
			Kind:     KindMethod,
			Receiver: receiver,
			Method:   name,
		},
	}, nil
}

// MustMethod is like Method but panics on error.
// Intended for wiring known at startup.
func MustMethod(receiver any, name string) Handler {
	h, err := Method(receiver, name)
	if err != nil {
		panic(err)
	}
	return h
}

type methodHandler struct {
	fn       reflect.Value
	args     []reflect.Value
	wantsCtx bool
	id       Identity
}

func (h *methodHandler) Invoke(ctx context.Context, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Handler: h.id.String(), Recovered: r}
		}
	}()

	in := make([]reflect.Value, 0, 2+len(h.args))
	if h.wantsCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, reflect.ValueOf(evt))
	in = append(in, h.args...)

	out := h.fn.Call(in)

	// A trailing error result is the invocation outcome.
	if n := len(out); n > 0 {
		if callErr, ok := out[n-1].Interface().(error); ok && callErr != nil {
			return &HandlerError{Handler: h.id.String(), Err: callErr}
		}
	}
	return nil
}

func (h *methodHandler) Alive() bool        { return true }
func (h *methodHandler) Identity() Identity { return h.id }

// ActorRef wraps a reference to an actor as a Handler.
// Invocation is fire-and-forget: the event is posted to the actor's
// mailbox and the outcome reflects delivery, not processing.
func ActorRef(a *Actor) Handler {
	if a == nil {
		panic("handler: nil actor")
	}
	return &actorHandler{
		actor: a,
		id: Identity{
			Kind:     KindActor,
			Receiver: a,
		},
	}
}

type actorHandler struct {
	actor *Actor
	id    Identity
}

func (h *actorHandler) Invoke(_ context.Context, evt event.Event) error {
	return h.actor.send(evt)
}

func (h *actorHandler) Alive() bool        { return h.actor.Alive() }
func (h *actorHandler) Identity() Identity { return h.id }
