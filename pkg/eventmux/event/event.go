// Package event provides the CloudEvents-shaped envelope routed by eventmux.
//
// Events are immutable once created - any modification creates a new event.
// The envelope follows the CloudEvents 1.0 attribute set: a required
// type/source/id triple plus optional subject, time, and content type,
// serialized as a flat JSON object with the payload under "data".
package event

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the CloudEvents specification version produced by New.
const SpecVersion = "1.0"

// Event is the core interface for all events in the system.
// The Type attribute drives routing; everything else is passed through.
type Event interface {
	// Identity
	ID() string     // Unique event identifier
	Type() string   // Event type (e.g., "com.example.order.created")
	Source() string // Event producer (e.g., "/orders", "wss://client-42")

	// Optional context attributes
	Subject() string     // Subject within the source, may be empty
	Time() time.Time     // When the event occurred
	ContentType() string // Media type of the payload, may be empty

	// Payload
	Data() any         // Structured payload, may be nil
	DataBytes() []byte // Serialized payload for transport and storage
}

// Attributes holds the CloudEvents context attributes.
// Embedding it in Envelope flattens the JSON encoding to the
// CloudEvents JSON format.
type Attributes struct {
	SpecVersion  string    `json:"specversion"`
	EventID      string    `json:"id"`
	EventType    string    `json:"type"`
	EventSource  string    `json:"source"`
	EventSubject string    `json:"subject,omitempty"`
	EventTime    time.Time `json:"time"`
	DataContent  string    `json:"datacontenttype,omitempty"`
}

// Envelope is a generic event implementation.
// T is the payload type for type-safe access.
type Envelope[T any] struct {
	Attributes
	Payload T `json:"data,omitempty"`

	// Cached serialization (computed lazily, safe for concurrent reads)
	cachedBytes atomic.Pointer[[]byte]
}

// ID returns the unique event identifier.
func (e *Envelope[T]) ID() string {
	return e.EventID
}

// Type returns the event type.
func (e *Envelope[T]) Type() string {
	return e.EventType
}

// Source returns the event producer.
func (e *Envelope[T]) Source() string {
	return e.EventSource
}

// Subject returns the subject within the source, if any.
func (e *Envelope[T]) Subject() string {
	return e.EventSubject
}

// Time returns when the event occurred.
func (e *Envelope[T]) Time() time.Time {
	return e.EventTime
}

// ContentType returns the payload media type, if any.
func (e *Envelope[T]) ContentType() string {
	return e.DataContent
}

// Data returns the event payload.
func (e *Envelope[T]) Data() any {
	return e.Payload
}

// TypedData returns the strongly-typed payload.
func (e *Envelope[T]) TypedData() T {
	return e.Payload
}

// DataBytes returns the serialized payload.
// The result is cached for efficiency. Concurrent callers may each
// serialize once, but all observe equivalent bytes; dispatch fan-out
// calls this from many goroutines at once.
func (e *Envelope[T]) DataBytes() []byte {
	if p := e.cachedBytes.Load(); p != nil {
		return *p
	}
	// Best effort - errors are ignored for interface compliance
	raw, _ := json.Marshal(e.Payload)
	e.cachedBytes.Store(&raw)
	return raw
}

// Validate checks that the required context attributes are present.
func (e *Envelope[T]) Validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event type is required")
	case e.EventID == "":
		return errors.New("event id is required")
	case e.EventSource == "":
		return errors.New("event source is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope[T]) MarshalJSON() ([]byte, error) {
	type alias Envelope[T]
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope[T]) UnmarshalJSON(data []byte) error {
	type alias Envelope[T]
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}
	e.cachedBytes.Store(nil) // Clear cache on unmarshal
	return nil
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id          string
	subject     string
	timestamp   time.Time
	contentType string
}

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithSubject sets the subject within the source.
func WithSubject(subject string) Option {
	return func(cfg *eventConfig) {
		cfg.subject = subject
	}
}

// WithTime sets a specific timestamp (default: time.Now()).
func WithTime(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// WithContentType sets the payload media type.
func WithContentType(ct string) Option {
	return func(cfg *eventConfig) {
		cfg.contentType = ct
	}
}

// New creates a new event with the given type, source, and payload.
func New[T any](eventType, source string, payload T, opts ...Option) *Envelope[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Envelope[T]{
		Attributes: Attributes{
			SpecVersion:  SpecVersion,
			EventID:      cfg.id,
			EventType:    eventType,
			EventSource:  source,
			EventSubject: cfg.subject,
			EventTime:    cfg.timestamp,
			DataContent:  cfg.contentType,
		},
		Payload: payload,
	}
}

// NewAny creates a new event with an untyped (any) payload.
// This is a convenience function when you don't need type-safe payload access.
func NewAny(eventType, source string, payload any, opts ...Option) *Envelope[any] {
	return New(eventType, source, payload, opts...)
}
