package eventmux

import (
	"github.com/rpedersen/eventmux/pkg/eventmux/event"
	"github.com/rpedersen/eventmux/pkg/eventmux/handler"
	"github.com/rpedersen/eventmux/pkg/eventmux/pattern"
)

// SubscriptionID is the opaque unique token returned by Subscribe.
// It is the sole handle for Unsubscribe.
type SubscriptionID string

// FilterFunc is an additional gate evaluated after pattern match.
// Returning false excludes the subscription from the dispatch. A panic
// inside the filter is treated as a non-match and logged.
type FilterFunc func(evt event.Event) bool

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	filter   FilterFunc
	metadata map[string]any
}

// WithFilter attaches a predicate gate to the subscription.
func WithFilter(filter FilterFunc) SubscribeOption {
	return func(o *subscribeOptions) {
		o.filter = filter
	}
}

// WithMetadata attaches passive key/value data to the subscription.
// Metadata is available through introspection and never affects matching.
func WithMetadata(metadata map[string]any) SubscribeOption {
	return func(o *subscribeOptions) {
		o.metadata = metadata
	}
}

// SubscriptionInfo describes an active subscription for introspection.
type SubscriptionInfo struct {
	ID       SubscriptionID
	Pattern  string
	Handler  handler.Handler
	Metadata map[string]any
}

// Match is one subscription matching a dispatched event type.
type Match struct {
	ID       SubscriptionID
	Pattern  string
	Handler  handler.Handler
	Filter   FilterFunc
	Metadata map[string]any
}

// record is the registry's internal subscription representation.
type record struct {
	id       SubscriptionID
	pattern  string
	matcher  *pattern.Matcher
	handler  handler.Handler
	filter   FilterFunc
	metadata map[string]any
}

func (r *record) match() Match {
	return Match{
		ID:       r.id,
		Pattern:  r.pattern,
		Handler:  r.handler,
		Filter:   r.filter,
		Metadata: r.metadata,
	}
}

func (r *record) info() SubscriptionInfo {
	return SubscriptionInfo{
		ID:       r.id,
		Pattern:  r.pattern,
		Handler:  r.handler,
		Metadata: r.metadata,
	}
}
