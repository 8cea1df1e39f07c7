package handler

import "fmt"

// HandlerError indicates a function or method handler failed during
// invocation, either by returning an error or by panicking.
type HandlerError struct {
	Handler   string // identity of the failing handler
	Err       error  // error returned by the handler, if any
	Recovered any    // recovered panic value, if the handler panicked
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("handler %s panicked: %v", e.Handler, e.Recovered)
	}
	return fmt.Sprintf("handler %s failed: %v", e.Handler, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Cause returns the captured failure: the returned error, or the
// recovered panic value when the handler panicked.
func (e *HandlerError) Cause() any {
	if e.Recovered != nil {
		return e.Recovered
	}
	return e.Err
}

// DeadHandlerError indicates an actor handler whose underlying actor is
// no longer running at invocation time.
type DeadHandlerError struct {
	Handler string
}

// Error implements the error interface.
func (e *DeadHandlerError) Error() string {
	return fmt.Sprintf("handler %s is not running", e.Handler)
}

// MailboxFullError indicates an actor's mailbox buffer was exhausted.
// The event was not enqueued.
type MailboxFullError struct {
	Handler string
}

// Error implements the error interface.
func (e *MailboxFullError) Error() string {
	return fmt.Sprintf("handler %s mailbox is full", e.Handler)
}
