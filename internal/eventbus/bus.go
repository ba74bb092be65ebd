// Package eventbus implements the kernel's pub/sub fabric: a synchronous,
// type-keyed event bus with wildcard subscribers and an optional NATS
// backend for multi-process deployments.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Reserved event types that must always have at least a default logger
// subscriber registered at startup.
const (
	TypeSystemError      = "system:error"
	TypeDeadlockDetected = "deadlock-detected"

	// WildcardType matches every event type; wildcard subscribers are
	// always dispatched after every explicit-type subscriber for the
	// same event.
	WildcardType = "*"
)

// Event is a single append-only observation of a state transition.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a new event with a fresh id and the current UTC time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler reacts to one event. A returned error is trapped and logged by
// the bus; it never propagates back to the emitter.
type Handler func(event *Event) error

// Subscription is a handle returned by Subscribe; Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// EventBus is a pub/sub fabric over string event types.
type EventBus interface {
	// Subscribe registers handler for eventType (or WildcardType for every
	// event) and returns a Subscription whose Unsubscribe removes exactly
	// this (type, handler) registration.
	Subscribe(eventType string, handler Handler) Subscription

	// Emit fans out event to every current subscriber of its type plus
	// every wildcard subscriber, explicit-type subscribers first, each in
	// registration order. Handler panics and errors are trapped and
	// logged; Emit itself never fails because of a handler.
	Emit(event *Event)

	// EmitAsync behaves like Emit but runs handlers concurrently and
	// blocks until all have returned, aggregating their errors for test
	// and diagnostic observability.
	EmitAsync(event *Event) []error

	// Close releases any resources held by the bus (network connections
	// for remote backends; a no-op for the in-memory bus).
	Close() error
}
