// Package dlq captures failed event deliveries for later review.
//
// When the dispatcher is configured with a Queue, every contained
// handler failure is recorded as a FailedDelivery. The queue stores
// delivery failures only; it does not persist or replay events that
// were dispatched successfully.
package dlq

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rpedersen/eventmux/pkg/eventmux/event"
)

// ErrQueueFull indicates the queue rejected an enqueue because its
// size limit was reached.
var ErrQueueFull = errors.New("dead letter queue is full")

// ErrNotFound indicates the referenced delivery is not in the queue.
var ErrNotFound = errors.New("failed delivery not found")

// FailedDelivery records one handler failing to process one event.
type FailedDelivery struct {
	// Event information
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	EventData []byte `json:"event_data"`

	// Failure information
	Handler      string `json:"handler"`
	ErrorMessage string `json:"error_message"`

	// Tracking
	AttemptCount  int       `json:"attempt_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// NewFailedDelivery creates a FailedDelivery from a handler error.
func NewFailedDelivery(evt event.Event, err error, handler string) *FailedDelivery {
	now := time.Now()
	return &FailedDelivery{
		EventID:       evt.ID(),
		EventType:     evt.Type(),
		EventData:     evt.DataBytes(),
		Handler:       handler,
		ErrorMessage:  err.Error(),
		AttemptCount:  1,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
}

// Queue stores failed deliveries for operator review and reprocessing.
type Queue interface {
	// Enqueue adds a failed delivery to the queue.
	Enqueue(ctx context.Context, failed *FailedDelivery) error

	// Dequeue retrieves failed deliveries, oldest failure first.
	Dequeue(ctx context.Context, limit int) ([]*FailedDelivery, error)

	// DequeueByType retrieves failed deliveries for one event type.
	DequeueByType(ctx context.Context, eventType string, limit int) ([]*FailedDelivery, error)

	// Acknowledge removes a delivery after successful reprocessing.
	// Acknowledging an unknown event ID returns ErrNotFound.
	Acknowledge(ctx context.Context, eventID string) error

	// Count returns the number of deliveries in the queue.
	Count(ctx context.Context) (int, error)

	// CountByType returns counts grouped by event type.
	CountByType(ctx context.Context) (map[string]int, error)

	// Close releases queue resources.
	Close() error
}

// MemoryQueue is an in-memory Queue.
// Suitable for testing and single-instance deployments.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries map[string]*FailedDelivery // keyed by event ID
	maxSize int
}

// DefaultMaxSize limits a MemoryQueue when no size is given.
const DefaultMaxSize = 10000

// NewMemoryQueue creates an in-memory queue holding at most maxSize
// deliveries. A non-positive maxSize uses DefaultMaxSize.
func NewMemoryQueue(maxSize int) *MemoryQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &MemoryQueue{
		entries: make(map[string]*FailedDelivery),
		maxSize: maxSize,
	}
}

// Enqueue adds a failed delivery.
// A repeated failure for the same event ID updates the existing entry's
// attempt count instead of occupying a new slot.
func (q *MemoryQueue) Enqueue(_ context.Context, failed *FailedDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.entries[failed.EventID]; ok {
		existing.AttemptCount++
		existing.LastFailedAt = failed.LastFailedAt
		existing.ErrorMessage = failed.ErrorMessage
		existing.Handler = failed.Handler
		return nil
	}

	if len(q.entries) >= q.maxSize {
		return ErrQueueFull
	}

	q.entries[failed.EventID] = failed
	return nil
}

// Dequeue returns up to limit deliveries, oldest failure first.
// Entries remain queued until acknowledged.
func (q *MemoryQueue) Dequeue(ctx context.Context, limit int) ([]*FailedDelivery, error) {
	return q.DequeueByType(ctx, "", limit)
}

// DequeueByType returns up to limit deliveries for one event type.
// An empty eventType matches every type.
func (q *MemoryQueue) DequeueByType(_ context.Context, eventType string, limit int) ([]*FailedDelivery, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	matched := make([]*FailedDelivery, 0, len(q.entries))
	for _, fd := range q.entries {
		if eventType == "" || fd.EventType == eventType {
			matched = append(matched, fd)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].FirstFailedAt.Before(matched[j].FirstFailedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Acknowledge removes a delivery by event ID.
func (q *MemoryQueue) Acknowledge(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[eventID]; !ok {
		return ErrNotFound
	}
	delete(q.entries, eventID)
	return nil
}

// Count returns the number of queued deliveries.
func (q *MemoryQueue) Count(_ context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries), nil
}

// CountByType returns queued delivery counts grouped by event type.
func (q *MemoryQueue) CountByType(_ context.Context) (map[string]int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := make(map[string]int)
	for _, fd := range q.entries {
		counts[fd.EventType]++
	}
	return counts, nil
}

// Close releases nothing for the in-memory queue.
func (q *MemoryQueue) Close() error {
	return nil
}
