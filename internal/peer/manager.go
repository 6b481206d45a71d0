package peer

import (
	"errors"
	"sync"

	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/awaitable"
	"github.com/brypt-mesh/node/internal/exchange"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

var ErrProxyExists = errors.New("peer: proxy already exists for that address or identifier")

// Filter selects a subset of the manager's proxies for iteration, per
// spec.md §4.4.
type Filter int

const (
	Active Filter = iota
	Inactive
	Observed
	Resolving
)

// Observer receives resolution-lifecycle notifications fanned out by the
// manager, e.g. a peer-list persistor.
type Observer interface {
	OnEndpointRegistered(proxy *Proxy, endpointID uint32)
	OnEndpointWithdrawn(proxy *Proxy, endpointID uint32, cause string)
}

// Manager is the two-index peer container and resolution service described
// in spec.md §4.4: proxies keyed by both internal and external identifier
// forms, plus a side table of in-progress address-keyed resolutions.
type Manager struct {
	local identifier.ID

	mu       sync.Mutex
	byID     map[identifier.ID]*Proxy
	byExtern map[string]*Proxy
	resolved map[string]*Proxy // keyed by address URI, pending identifier confirmation

	observerMu sync.Mutex
	observers  []Observer

	tracking *awaitable.Service
	appSink  message.Sink
}

// NewManager builds an empty manager for local, whose tracking service is
// handed to every proxy it constructs.
func NewManager(local identifier.ID, tracking *awaitable.Service) *Manager {
	return &Manager{
		local:    local,
		byID:     make(map[identifier.ID]*Proxy),
		byExtern: make(map[string]*Proxy),
		resolved: make(map[string]*Proxy),
		tracking: tracking,
	}
}

// Subscribe adds observer to the ordered notification set.
func (m *Manager) Subscribe(observer Observer) {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	m.observers = append(m.observers, observer)
}

// SetApplicationSink configures the message.Sink that every proxy created
// from this point on swaps its receiver to once its handshake succeeds
// (Proxy.onExchangeSuccess). Proxies already constructed are unaffected;
// set this before peers start resolving.
func (m *Manager) SetApplicationSink(sink message.Sink) {
	m.mu.Lock()
	m.appSink = sink
	m.mu.Unlock()
}

// DeclareResolvingPeer starts an Initiator-role handshake toward addr. If id
// is non-nil and a proxy is already registered under it, ErrProxyExists is
// returned. If a resolution entry for addr already exists, returns (parcel,
// false, nil) signaling the caller to treat the attempt as already in
// progress.
func (m *Manager) DeclareResolvingPeer(addr address.RemoteAddress, id *identifier.ID, synchronizer exchange.Synchronizer, connect ConnectProtocol) (message.PlatformParcel, bool, error) {
	m.mu.Lock()

	if id != nil {
		if _, exists := m.byID[*id]; exists {
			m.mu.Unlock()
			return message.PlatformParcel{}, false, ErrProxyExists
		}
	}
	if _, inProgress := m.resolved[addr.URI()]; inProgress {
		m.mu.Unlock()
		return message.PlatformParcel{}, false, nil
	}

	proxyID := identifier.ID{}
	if id != nil {
		proxyID = *id
	}
	proxy := NewProxy(proxyID, m.tracking, m)
	proxy.appSink = m.appSink
	m.resolved[addr.URI()] = proxy
	m.mu.Unlock()

	parcel, _, err := proxy.StartExchange(m.local, exchange.RoleInitiator, synchronizer, connect)
	if err != nil {
		m.mu.Lock()
		delete(m.resolved, addr.URI())
		m.mu.Unlock()
		return message.PlatformParcel{}, false, err
	}
	return parcel, true, nil
}

// LinkPeer is called from the accept/connect path once the remote
// identifier is known: it creates or looks up the proxy for id, attaches an
// Acceptor-role resolver if none is present, and returns the proxy.
func (m *Manager) LinkPeer(id identifier.ID, addr address.RemoteAddress, synchronizer exchange.Synchronizer, connect ConnectProtocol) (*Proxy, error) {
	m.mu.Lock()
	proxy, exists := m.byID[id]
	if !exists {
		proxy = NewProxy(id, m.tracking, m)
		proxy.appSink = m.appSink
		m.insertLocked(proxy)
	}
	delete(m.resolved, addr.URI())
	m.mu.Unlock()

	if !proxy.hasResolver() {
		if _, _, err := proxy.StartExchange(m.local, exchange.RoleAcceptor, synchronizer, connect); err != nil {
			return nil, err
		}
	}
	return proxy, nil
}

// RescindResolvingPeer removes addr's resolver entry, e.g. when a connect
// delegate gives up retrying.
func (m *Manager) RescindResolvingPeer(addr address.RemoteAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resolved, addr.URI())
}

// LookupResolving returns the proxy currently mid-handshake for addr, if
// any, e.g. for a connect delegate to bind its first registration once the
// socket connects.
func (m *Manager) LookupResolving(addr address.RemoteAddress) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proxy, ok := m.resolved[addr.URI()]
	return proxy, ok
}

// Lookup returns the proxy registered for id, if any.
func (m *Manager) Lookup(id identifier.ID) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proxy, ok := m.byID[id]
	return proxy, ok
}

// LookupExternal returns the proxy registered for an external identifier
// string, if any.
func (m *Manager) LookupExternal(external string) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proxy, ok := m.byExtern[external]
	return proxy, ok
}

// Count returns the number of proxies matching filter.
func (m *Manager) Count(filter Filter) int {
	return len(m.Snapshot(filter))
}

// Snapshot returns every proxy matching filter, per spec.md §4.4's Active
// (any endpoint registered), Inactive (none), Observed (both conditions,
// i.e. every tracked proxy), and Resolving (mid-handshake, no identifier
// confirmed yet) categories.
func (m *Manager) Snapshot(filter Filter) []*Proxy {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch filter {
	case Resolving:
		out := make([]*Proxy, 0, len(m.resolved))
		for _, proxy := range m.resolved {
			out = append(out, proxy)
		}
		return out
	case Active:
		return m.filterByActivityLocked(true)
	case Inactive:
		return m.filterByActivityLocked(false)
	case Observed:
		out := make([]*Proxy, 0, len(m.byID))
		for _, proxy := range m.byID {
			out = append(out, proxy)
		}
		return out
	default:
		return nil
	}
}

func (m *Manager) filterByActivityLocked(active bool) []*Proxy {
	out := make([]*Proxy, 0, len(m.byID))
	for _, proxy := range m.byID {
		if proxy.hasAnyEndpoint() == active {
			out = append(out, proxy)
		}
	}
	return out
}

func (m *Manager) insertLocked(proxy *Proxy) {
	m.byID[proxy.Identifier()] = proxy
	m.byExtern[proxy.Identifier().String()] = proxy
}

// OnEndpointRegistered satisfies ResolutionObserver: it registers the proxy
// under the two-index maps (in case it was only known as a resolution
// entry before its first endpoint bound) and fans the event out to every
// subscribed observer. Per spec.md §4.4, observer notification happens with
// no peer data locks held, avoiding re-entrant deadlock against Proxy's own
// locks.
func (m *Manager) OnEndpointRegistered(proxy *Proxy, endpointID uint32) {
	m.mu.Lock()
	if _, exists := m.byID[proxy.Identifier()]; !exists {
		m.insertLocked(proxy)
	}
	m.mu.Unlock()

	m.observerMu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.observerMu.Unlock()
	for _, observer := range observers {
		observer.OnEndpointRegistered(proxy, endpointID)
	}
}

// OnEndpointWithdrawn satisfies ResolutionObserver, fanning the withdrawal
// out to every subscribed observer.
func (m *Manager) OnEndpointWithdrawn(proxy *Proxy, endpointID uint32, cause string) {
	m.observerMu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.observerMu.Unlock()
	for _, observer := range observers {
		observer.OnEndpointWithdrawn(proxy, endpointID, cause)
	}
}
