package eventbus

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSubscriptionsSuspended is returned by Subscribe once
// SuspendSubscriptions has been called.
var ErrSubscriptionsSuspended = errors.New("eventbus: subscriptions are suspended")

// Handler receives one dispatched event.
type Handler func(Event)

type subscription struct {
	id      uuid.UUID
	handler Handler
}

// Bus is the lightweight typed pub/sub of spec.md §4.8. Publish enqueues
// from any goroutine; Dispatch drains the queue and invokes subscribers
// from whatever goroutine calls it. It must be called from a controlled
// context, never from inside a Handler.
type Bus struct {
	mu          sync.Mutex
	subscribers map[Type][]subscription
	suspended   bool

	queueMu sync.Mutex
	queue   []Event
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[Type][]subscription)}
}

// Subscribe registers handler for every event of type t, returning a handle
// Unsubscribe can later use. Fails once subscriptions have been suspended.
func (b *Bus) Subscribe(t Type, handler Handler) (uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.suspended {
		return uuid.UUID{}, ErrSubscriptionsSuspended
	}
	id := uuid.New()
	b.subscribers[t] = append(b.subscribers[t], subscription{id: id, handler: handler})
	return id, nil
}

// Unsubscribe removes a previously registered handler. A no-op if id isn't
// found under t (e.g. it already unsubscribed).
func (b *Bus) Unsubscribe(t Type, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[t]
	for i, sub := range subs {
		if sub.id == id {
			b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// SuspendSubscriptions closes the bus to new subscribers. Existing
// subscriptions keep receiving events; only Subscribe is affected.
func (b *Bus) SuspendSubscriptions() {
	b.mu.Lock()
	b.suspended = true
	b.mu.Unlock()
}

// ListenerCount reports how many handlers are currently subscribed to t.
func (b *Bus) ListenerCount(t Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[t])
}

// Publish enqueues event for the next Dispatch call. Safe to call
// concurrently from any endpoint or session goroutine.
func (b *Bus) Publish(event Event) {
	b.queueMu.Lock()
	b.queue = append(b.queue, event)
	b.queueMu.Unlock()
}

// Dispatch drains the queue in publish order, invoking every subscriber
// registered for each event's type, and returns how many events it
// processed. Subscriber handlers run synchronously on the calling
// goroutine; a handler that calls Publish is fine, but one that calls
// Dispatch re-entrantly will interleave with the outer drain.
func (b *Bus) Dispatch() int {
	b.queueMu.Lock()
	pending := b.queue
	b.queue = nil
	b.queueMu.Unlock()

	b.mu.Lock()
	snapshot := make(map[Type][]subscription, len(b.subscribers))
	for t, subs := range b.subscribers {
		snapshot[t] = append([]subscription(nil), subs...)
	}
	b.mu.Unlock()

	for _, event := range pending {
		for _, sub := range snapshot[event.EventType()] {
			sub.handler(event)
		}
	}
	return len(pending)
}

// Pending reports how many events are queued awaiting the next Dispatch.
func (b *Bus) Pending() int {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return len(b.queue)
}
