package exchange

import (
	"crypto/ed25519"
	"testing"

	"github.com/brypt-mesh/node/internal/cipher"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

type fakeObserver struct {
	success bool
	failure bool
	pkg     cipher.Package
}

func (o *fakeObserver) OnExchangeSuccess(pkg cipher.Package) { o.success = true; o.pkg = pkg }
func (o *fakeObserver) OnExchangeFailure()                   { o.failure = true }

type fakeConnect struct{ called bool }

func (c *fakeConnect) SendRequest() error { c.called = true; return nil }

type loopbackProxy struct{ peer *Processor }

func (p *loopbackProxy) SendFirstEndpoint(parcel message.PlatformParcel) error {
	return p.peer.CollectMessage(parcel)
}

func idWithFirstByte(b byte) identifier.ID {
	var id identifier.ID
	id[0] = b
	return id
}

func TestPostQuantumHandshakeCompletesViaProcessor(t *testing.T) {
	localID, peerID := idWithFirstByte(1), idWithFirstByte(2)

	initSignPub, initSignPriv, _ := ed25519.GenerateKey(nil)
	accSignPub, accSignPriv, _ := ed25519.GenerateKey(nil)

	initSync := NewPostQuantumSynchronizer(RoleInitiator, initSignPriv, accSignPub)
	accSync := NewPostQuantumSynchronizer(RoleAcceptor, accSignPriv, initSignPub)

	initObserver, accObserver := &fakeObserver{}, &fakeObserver{}
	connect := &fakeConnect{}
	initProxy, accProxy := &loopbackProxy{}, &loopbackProxy{}

	initProcessor := NewProcessor(RoleInitiator, initSync, localID, initObserver, initProxy, connect)
	accProcessor := NewProcessor(RoleAcceptor, accSync, peerID, accObserver, accProxy, nil)
	initProxy.peer, accProxy.peer = accProcessor, initProcessor

	parcel, ok, err := initProcessor.Prepare()
	if err != nil || !ok {
		t.Fatalf("initiator prepare: ok=%v err=%v", ok, err)
	}
	if _, _, err := accProcessor.Prepare(); err != nil {
		t.Fatalf("acceptor prepare: %v", err)
	}

	if err := accProcessor.CollectMessage(parcel); err != nil {
		t.Fatalf("acceptor collect: %v", err)
	}

	initSuccess, initFailure := initProcessor.CurrentState()
	accSuccess, accFailure := accProcessor.CurrentState()
	if !initSuccess || initFailure {
		t.Fatalf("expected initiator success, got success=%v failure=%v", initSuccess, initFailure)
	}
	if !accSuccess || accFailure {
		t.Fatalf("expected acceptor success, got success=%v failure=%v", accSuccess, accFailure)
	}
	if !connect.called {
		t.Fatalf("expected initiator to dispatch post-handshake connect request")
	}
	if !initObserver.success || !accObserver.success {
		t.Fatalf("expected both observers notified of success")
	}

	plaintext := []byte("post handshake payload")
	sealed, err := initObserver.pkg.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt with negotiated package: %v", err)
	}
	opened, err := accObserver.pkg.Decrypt(sealed)
	if err != nil || string(opened) != string(plaintext) {
		t.Fatalf("decrypt mismatch: got %q err %v", opened, err)
	}
}

func TestClassicHandshakeCompletesViaProcessor(t *testing.T) {
	localID, peerID := idWithFirstByte(3), idWithFirstByte(4)

	initStatic, err := cipher.GenerateNoiseKeyPair()
	if err != nil {
		t.Fatalf("generate initiator static key: %v", err)
	}
	accStatic, err := cipher.GenerateNoiseKeyPair()
	if err != nil {
		t.Fatalf("generate acceptor static key: %v", err)
	}
	initSync, err := NewClassicSynchronizer(RoleInitiator, initStatic)
	if err != nil {
		t.Fatalf("new initiator synchronizer: %v", err)
	}
	accSync, err := NewClassicSynchronizer(RoleAcceptor, accStatic)
	if err != nil {
		t.Fatalf("new acceptor synchronizer: %v", err)
	}

	initObserver, accObserver := &fakeObserver{}, &fakeObserver{}
	connect := &fakeConnect{}
	initProxy, accProxy := &loopbackProxy{}, &loopbackProxy{}

	initProcessor := NewProcessor(RoleInitiator, initSync, localID, initObserver, initProxy, connect)
	accProcessor := NewProcessor(RoleAcceptor, accSync, peerID, accObserver, accProxy, nil)
	initProxy.peer, accProxy.peer = accProcessor, initProcessor

	msg1, ok, err := initProcessor.Prepare()
	if err != nil || !ok {
		t.Fatalf("initiator prepare: ok=%v err=%v", ok, err)
	}
	if _, _, err := accProcessor.Prepare(); err != nil {
		t.Fatalf("acceptor prepare: %v", err)
	}

	if err := accProcessor.CollectMessage(msg1); err != nil {
		t.Fatalf("acceptor collect msg1: %v", err)
	}

	initSuccess, _ := initProcessor.CurrentState()
	accSuccess, _ := accProcessor.CurrentState()
	if !initSuccess || !accSuccess {
		t.Fatalf("expected both sides to complete a 3-message XX handshake via processor chaining, initiator=%v acceptor=%v", initSuccess, accSuccess)
	}
	if !connect.called {
		t.Fatalf("expected initiator to dispatch post-handshake connect request")
	}
}

func TestCollectMessageFailsOnWrongDestination(t *testing.T) {
	local, other := idWithFirstByte(5), idWithFirstByte(6)
	observer := &fakeObserver{}
	processor := NewProcessor(RoleAcceptor, &stubSynchronizer{}, local, observer, &loopbackProxy{}, nil)
	if _, _, err := processor.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	wrongDest := other
	parcel := message.PlatformParcel{
		Header: message.Header{DestinationType: message.DestinationNode, Destination: &wrongDest},
		Type:   message.PlatformHandshake,
	}
	if err := processor.CollectMessage(parcel); err == nil {
		t.Fatalf("expected failure on wrong destination")
	}
	success, failure := processor.CurrentState()
	if success || !failure {
		t.Fatalf("expected processor in failure state, got success=%v failure=%v", success, failure)
	}
	if !observer.failure {
		t.Fatalf("expected observer notified of failure")
	}
	if err := processor.CollectMessage(parcel); err == nil {
		t.Fatalf("expected processor to reject further messages after failure")
	}
}

type stubSynchronizer struct{ status Status }

func (s *stubSynchronizer) Initialize() (Status, []byte, error) {
	s.status = StatusProcessing
	return s.status, nil, nil
}
func (s *stubSynchronizer) Synchronize([]byte) (Status, []byte, error) { return s.status, nil, nil }
func (s *stubSynchronizer) Finalize() (cipher.Package, bool)          { return nil, false }
func (s *stubSynchronizer) Stages() int                               { return 1 }
func (s *stubSynchronizer) CurrentStatus() Status                     { return s.status }
