package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per session (default: 256).
	SubscriberBufferSize int

	// OnDrop is called when an event could not be delivered to a session
	// because its buffer was full. It runs on the emitting goroutine.
	OnDrop func(sessionID string, event Event)

	// Now overrides the clock used to stamp events.
	Now func() time.Time
}

// MemBus is an in-memory event bus. Sessions are kept in a map keyed by
// session id so removal is O(1) and independent of emission order.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[string]*memSub
	bufSize int
	onDrop  func(string, Event)
	now     func() time.Time
	seq     atomic.Uint64
	closed  bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &MemBus{
		subs:    make(map[string]*memSub),
		bufSize: bufSize,
		onDrop:  config.OnDrop,
		now:     now,
	}
}

// Emit sends an event to every registered session. If the bus is closed,
// the event is stamped but silently dropped.
func (b *MemBus) Emit(kind string, data any) Event {
	event := Event{
		Seq:  b.seq.Add(1),
		Kind: kind,
		Time: b.now().UTC(),
		Data: data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return event
	}

	for id, sub := range b.subs {
		if !sub.send(event) && b.onDrop != nil {
			b.onDrop(id, event)
		}
	}
	return event
}

// Subscribe registers a new session.
// Returns a Subscription that must be closed when done. Subscribing to a
// closed bus returns an already-closed subscription.
func (b *MemBus) Subscribe() Subscription {
	sub := newMemSub(uuid.NewString(), b.bufSize, b)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Len reports the number of registered sessions.
func (b *MemBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	return nil
}

func (b *MemBus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// memSub is an in-memory subscription.
type memSub struct {
	id     string
	bus    *MemBus
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newMemSub(id string, bufSize int, b *MemBus) *memSub {
	return &memSub{
		id:  id,
		bus: b,
		ch:  make(chan Event, bufSize),
	}
}

// ID returns the session identifier.
func (s *memSub) ID() string {
	return s.id
}

// Events returns a channel of events for this session.
func (s *memSub) Events() <-chan Event {
	return s.ch
}

// Close removes the session from the bus and closes its channel.
func (s *memSub) Close() error {
	s.bus.remove(s.id)
	s.close()
	return nil
}

// close performs the actual channel close, guarded against double-close.
func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event to the session's channel. It reports false when the
// channel is full; sends to a closed session are ignored.
func (s *memSub) send(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Compile-time interface checks.
var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
