package peer

import (
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/brypt-mesh/node/internal/awaitable"
	"github.com/brypt-mesh/node/internal/exchange"
	"github.com/brypt-mesh/node/internal/message"
)

func newTestManager(t *testing.T, local byte) *Manager {
	t.Helper()
	id := idWithByte(local)
	tracking := awaitable.NewService(id, clock.NewMock())
	return NewManager(id, tracking)
}

func TestDeclareResolvingPeerReturnsFirstParcel(t *testing.T) {
	manager := newTestManager(t, 0)
	addr := testRemoteAddress(t, "tcp://127.0.0.1:9200")

	_, initPriv := generateEd25519(t)
	sync := exchange.NewPostQuantumSynchronizer(exchange.RoleInitiator, initPriv, nil)

	parcel, started, err := manager.DeclareResolvingPeer(addr, nil, sync, nil)
	if err != nil {
		t.Fatalf("DeclareResolvingPeer: %v", err)
	}
	if !started {
		t.Fatalf("expected a fresh resolution to start")
	}
	if len(parcel.Payload) == 0 {
		t.Fatalf("expected a non-empty first handshake payload")
	}
	if manager.Count(Resolving) != 1 {
		t.Fatalf("expected one resolving entry, got %d", manager.Count(Resolving))
	}
}

func TestDeclareResolvingPeerReportsInProgressOnRepeat(t *testing.T) {
	manager := newTestManager(t, 0)
	addr := testRemoteAddress(t, "tcp://127.0.0.1:9200")
	_, initPriv := generateEd25519(t)

	first := exchange.NewPostQuantumSynchronizer(exchange.RoleInitiator, initPriv, nil)
	if _, started, err := manager.DeclareResolvingPeer(addr, nil, first, nil); err != nil || !started {
		t.Fatalf("expected first declare to start, err=%v started=%v", err, started)
	}

	second := exchange.NewPostQuantumSynchronizer(exchange.RoleInitiator, initPriv, nil)
	_, started, err := manager.DeclareResolvingPeer(addr, nil, second, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started {
		t.Fatalf("expected repeat declare for the same address to report in-progress")
	}
}

func TestDeclareResolvingPeerRejectsExistingIdentifier(t *testing.T) {
	manager := newTestManager(t, 0)
	existing := idWithByte(5)
	manager.mu.Lock()
	manager.insertLocked(NewProxy(existing, manager.tracking, manager))
	manager.mu.Unlock()

	_, initPriv := generateEd25519(t)
	sync := exchange.NewPostQuantumSynchronizer(exchange.RoleInitiator, initPriv, nil)
	addr := testRemoteAddress(t, "tcp://127.0.0.1:9300")

	_, _, err := manager.DeclareResolvingPeer(addr, &existing, sync, nil)
	if err != ErrProxyExists {
		t.Fatalf("expected ErrProxyExists, got %v", err)
	}
}

func TestLinkPeerCreatesProxyAndAttachesAcceptor(t *testing.T) {
	manager := newTestManager(t, 0)
	remote := idWithByte(7)
	addr := testRemoteAddress(t, "tcp://127.0.0.1:9400")

	_, accPriv := generateEd25519(t)
	sync := exchange.NewPostQuantumSynchronizer(exchange.RoleAcceptor, accPriv, nil)

	proxy, err := manager.LinkPeer(remote, addr, sync, nil)
	if err != nil {
		t.Fatalf("LinkPeer: %v", err)
	}
	if proxy.Identifier() != remote {
		t.Fatalf("expected proxy identifier %v, got %v", remote, proxy.Identifier())
	}
	if !proxy.hasResolver() {
		t.Fatalf("expected an acceptor resolver attached")
	}

	found, ok := manager.Lookup(remote)
	if !ok || found != proxy {
		t.Fatalf("expected proxy indexed by internal identifier")
	}
	foundExternal, ok := manager.LookupExternal(remote.String())
	if !ok || foundExternal != proxy {
		t.Fatalf("expected proxy indexed by external identifier")
	}
}

func TestRescindResolvingPeerRemovesEntry(t *testing.T) {
	manager := newTestManager(t, 0)
	addr := testRemoteAddress(t, "tcp://127.0.0.1:9500")
	_, initPriv := generateEd25519(t)
	sync := exchange.NewPostQuantumSynchronizer(exchange.RoleInitiator, initPriv, nil)

	if _, started, err := manager.DeclareResolvingPeer(addr, nil, sync, nil); err != nil || !started {
		t.Fatalf("declare: err=%v started=%v", err, started)
	}
	manager.RescindResolvingPeer(addr)
	if manager.Count(Resolving) != 0 {
		t.Fatalf("expected resolving entry removed, count=%d", manager.Count(Resolving))
	}
}

func TestObserverFanOutOnEndpointRegistered(t *testing.T) {
	manager := newTestManager(t, 0)
	var registered []uint32
	manager.Subscribe(observerFunc{
		registered: func(_ *Proxy, id uint32) { registered = append(registered, id) },
		withdrawn:  func(*Proxy, uint32, string) {},
	})

	proxy := NewProxy(idWithByte(3), manager.tracking, manager)
	reg := NewRegistration(1, "tcp", testRemoteAddress(t, "tcp://127.0.0.1:9600"), func([]byte) error { return nil }, func() error { return nil }, message.Context{})
	proxy.Bind(reg)

	if len(registered) != 1 || registered[0] != 1 {
		t.Fatalf("expected fan-out to observer, got %v", registered)
	}
	if _, ok := manager.Lookup(idWithByte(3)); !ok {
		t.Fatalf("expected manager to index the proxy once its first endpoint registered")
	}
	if manager.Count(Active) != 1 {
		t.Fatalf("expected one active proxy, got %d", manager.Count(Active))
	}
}

func TestSnapshotFiltersActiveInactiveObserved(t *testing.T) {
	manager := newTestManager(t, 0)

	active := NewProxy(idWithByte(1), manager.tracking, manager)
	reg := NewRegistration(1, "tcp", testRemoteAddress(t, "tcp://127.0.0.1:9700"), func([]byte) error { return nil }, func() error { return nil }, message.Context{})
	active.Bind(reg)

	inactive := NewProxy(idWithByte(2), manager.tracking, manager)
	manager.mu.Lock()
	manager.insertLocked(inactive)
	manager.mu.Unlock()

	if got := manager.Count(Active); got != 1 {
		t.Fatalf("expected 1 active proxy, got %d", got)
	}
	if got := manager.Count(Inactive); got != 1 {
		t.Fatalf("expected 1 inactive proxy, got %d", got)
	}
	if got := manager.Count(Observed); got != 2 {
		t.Fatalf("expected 2 observed proxies, got %d", got)
	}
}
