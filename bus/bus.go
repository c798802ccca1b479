// Package bus provides the broadcast channel used to push asynchronous events
// to every connected listener. Listeners hold a Subscription for as long as
// their connection lives; publishers emit events without knowing who, if
// anyone, is listening.
package bus

import "time"

// Event is one broadcast message.
type Event struct {
	Seq  uint64    `json:"seq"`
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Publisher emits events to all current subscribers.
type Publisher interface {
	// Emit stamps the event with a sequence number and time and delivers it
	// to every session registered at the moment of the call.
	Emit(kind string, data any) Event
}

// EventBus distributes events to a set of sessions.
type EventBus interface {
	Publisher

	// Subscribe registers a new session.
	// Returns a Subscription that must be closed when done.
	Subscribe() Subscription

	// Len reports the number of registered sessions.
	Len() int

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription is one broadcast session.
type Subscription interface {
	// ID returns the session identifier.
	ID() string

	// Events returns a channel of events for this session.
	Events() <-chan Event

	// Close unsubscribes and releases resources. It is safe to call at any
	// time, concurrently with Emit, and more than once.
	Close() error
}
