package endpoint

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/eventbus"
)

// Mediator is the conflict policy consulted before any connect, shared by
// every Endpoint instance in the node: it knows the full set of local
// bindings (so it can recognize a Reflective connect no matter which
// endpoint attempts it) and keeps a bounded log of recent connection
// failures, readable through RecentRejections, per spec.md §4.2. No
// connect decision consults that log.
type Mediator struct {
	mu       sync.Mutex
	bindings map[string]struct{}

	rejections *lru.Cache[string, Rejection]
}

// Rejection records one conflict-policy rejection for later inspection.
type Rejection struct {
	Remote address.RemoteAddress
	Cause  eventbus.ConnectionFailureCause
	At     time.Time
}

// recentRejectionCapacity bounds the mediator's rejection log; it exists
// for diagnostics, not correctness, so a small fixed size is enough.
const recentRejectionCapacity = 128

// NewMediator builds an empty mediator.
func NewMediator() *Mediator {
	cache, _ := lru.New[string, Rejection](recentRejectionCapacity)
	return &Mediator{bindings: make(map[string]struct{}), rejections: cache}
}

// RegisterBinding makes binding visible to IsReflective checks from any
// endpoint sharing this mediator.
func (m *Mediator) RegisterBinding(binding address.BindingAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[binding.URI()] = struct{}{}
}

// UnregisterBinding removes binding, e.g. on endpoint shutdown.
func (m *Mediator) UnregisterBinding(binding address.BindingAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, binding.URI())
}

// IsReflective reports whether remote's URI matches one of the node's own
// bindings, per spec.md §4.2's Reflective conflict.
func (m *Mediator) IsReflective(remote address.RemoteAddress) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bindings[remote.URI()]
	return ok
}

// RecordRejection logs a connection failure: a conflict-policy rejection
// or a failed dial.
func (m *Mediator) RecordRejection(remote address.RemoteAddress, cause eventbus.ConnectionFailureCause) {
	m.rejections.Add(remote.URI(), Rejection{Remote: remote, Cause: cause, At: time.Now()})
}

// RecentRejections returns every rejection currently retained, most
// recently added last within the cache's own eviction order.
func (m *Mediator) RecentRejections() []Rejection {
	out := make([]Rejection, 0, m.rejections.Len())
	for _, key := range m.rejections.Keys() {
		if rejection, ok := m.rejections.Peek(key); ok {
			out = append(out, rejection)
		}
	}
	return out
}
