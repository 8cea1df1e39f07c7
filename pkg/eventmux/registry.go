package eventmux

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rpedersen/eventmux/pkg/eventmux/handler"
	"github.com/rpedersen/eventmux/pkg/eventmux/pattern"
)

// Registry is a concurrency-safe store of subscriptions.
//
// Exact and wildcard patterns live in separate indices so the dispatch
// hot path is a map lookup for the common exact case plus a precompiled
// regexp test per wildcard subscription. All methods are safe for
// concurrent use; readers never block each other.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string][]*record // literal pattern -> subscriptions
	wildcard []*record            // subscriptions with compiled matchers
	byID     map[SubscriptionID]*record
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		exact: make(map[string][]*record),
		byID:  make(map[SubscriptionID]*record),
	}
}

// Subscribe stores a (pattern, handler) association and returns its ID.
// The pattern is compiled eagerly, so a malformed pattern fails here
// with *pattern.InvalidPatternError and can never fail a dispatch.
// A handler may hold many simultaneous subscriptions, including
// duplicates of the same pattern.
func (r *Registry) Subscribe(p string, h handler.Handler, opts ...SubscribeOption) (SubscriptionID, error) {
	if h == nil {
		return "", fmt.Errorf("registry: nil handler")
	}

	matcher, err := pattern.Compile(p)
	if err != nil {
		return "", err
	}

	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	rec := &record{
		id:       SubscriptionID(uuid.New().String()),
		pattern:  p,
		matcher:  matcher,
		handler:  h,
		filter:   o.filter,
		metadata: o.metadata,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if matcher.IsExact() {
		r.exact[p] = append(r.exact[p], rec)
	} else {
		r.wildcard = append(r.wildcard, rec)
	}
	r.byID[rec.id] = rec

	return rec.id, nil
}

// Unsubscribe removes a subscription by ID.
// Unsubscribing an unknown ID is a no-op.
func (r *Registry) Unsubscribe(id SubscriptionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)

	if rec.matcher.IsExact() {
		recs := removeRecord(r.exact[rec.pattern], id)
		if len(recs) == 0 {
			delete(r.exact, rec.pattern)
		} else {
			r.exact[rec.pattern] = recs
		}
	} else {
		r.wildcard = removeRecord(r.wildcard, id)
	}
}

func removeRecord(recs []*record, id SubscriptionID) []*record {
	for i, rec := range recs {
		if rec.id == id {
			return append(recs[:i:i], recs[i+1:]...)
		}
	}
	return recs
}

// FindHandlers returns every subscription matching the event type:
// all exact-index entries for the type plus all wildcard entries whose
// compiled matcher accepts it. Each matching subscription appears
// exactly once; order is not guaranteed.
func (r *Registry) FindHandlers(eventType string) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]Match, 0, len(r.exact[eventType]))
	seen := make(map[SubscriptionID]struct{})

	for _, rec := range r.exact[eventType] {
		if _, dup := seen[rec.id]; dup {
			continue
		}
		seen[rec.id] = struct{}{}
		matches = append(matches, rec.match())
	}

	for _, rec := range r.wildcard {
		if !rec.matcher.Matches(eventType) {
			continue
		}
		if _, dup := seen[rec.id]; dup {
			continue
		}
		seen[rec.id] = struct{}{}
		matches = append(matches, rec.match())
	}

	return matches
}

// SubscriptionsFor returns all subscriptions held by a handler,
// compared by handler identity. Extra method arguments are excluded
// from identity, so MethodWithArgs variants over the same method count
// as the same handler.
func (r *Registry) SubscriptionsFor(h handler.Handler) []SubscriptionInfo {
	if h == nil {
		return nil
	}
	id := h.Identity()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []SubscriptionInfo
	for _, rec := range r.byID {
		if rec.handler.Identity() == id {
			infos = append(infos, rec.info())
		}
	}
	return infos
}

// Count returns the total number of active subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns every active subscription for introspection and debugging.
func (r *Registry) All() []SubscriptionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SubscriptionInfo, 0, len(r.byID))
	for _, rec := range r.byID {
		infos = append(infos, rec.info())
	}
	return infos
}

// Clear removes every subscription.
// Intended for test isolation, not production use.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exact = make(map[string][]*record)
	r.wildcard = nil
	r.byID = make(map[SubscriptionID]*record)
}
