// Package endpoint implements the TCP endpoint described in spec.md §4.2:
// one listener per binding, a connect delegate for outbound sessions, a
// conflict mediator shared across every endpoint in the node, and the
// glue that links an identified session to a peer.Proxy. Grounded on
// original_source's Agent::Listener/Delegate pair and the teacher's
// core/network.go Dialer (the one place it touches raw TCP rather than
// libp2p).
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/eventbus"
	"github.com/brypt-mesh/node/internal/exchange"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
	"github.com/brypt-mesh/node/internal/peer"
	"github.com/brypt-mesh/node/internal/session"
)

// Config holds the timeouts and retry bounds spec.md §5 assigns defaults
// for: a 15s connect deadline, a 5s retry interval, and a retry limit of 3.
type Config struct {
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	RetryLimit     int
}

// DefaultConfig returns spec.md §5's stated defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 15 * time.Second,
		RetryInterval:  5 * time.Second,
		RetryLimit:     3,
	}
}

// SynchronizerFactory builds a fresh handshake Synchronizer for role, one
// per exchange attempt (a Synchronizer is single-use, per spec.md §4.5).
type SynchronizerFactory func(role exchange.Role) exchange.Synchronizer

var endpointSequence atomic.Uint32

func nextEndpointID() uint32 {
	return endpointSequence.Add(1)
}

// Endpoint is one TCP listener and every outbound/inbound session it
// owns. endpoint-id is assigned once at construction and passed to every
// Registration this endpoint ever binds, regardless of which remote peer
// a given session belongs to, per spec.md §3's registered_endpoints map.
type Endpoint struct {
	id      uint32
	binding address.BindingAddress
	config  Config

	manager     *peer.Manager
	mediator    *Mediator
	bus         *eventbus.Bus
	synthesize  SynchronizerFactory
	connectProt peer.ConnectProtocol
	logger      *logrus.Entry

	tracker *sessionTracker

	listener net.Listener

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	shuttingDown   bool
	shutdownMu     sync.Mutex

	wg sync.WaitGroup
}

// New builds an endpoint bound to binding. Call Startup to begin accepting
// connections.
func New(binding address.BindingAddress, manager *peer.Manager, mediator *Mediator, bus *eventbus.Bus, synthesize SynchronizerFactory, connect peer.ConnectProtocol, config Config, logger *logrus.Logger) *Endpoint {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		id:             nextEndpointID(),
		binding:        binding,
		config:         config,
		manager:        manager,
		mediator:       mediator,
		bus:            bus,
		synthesize:     synthesize,
		connectProt:    connect,
		logger:         logger.WithField("endpoint", binding.URI()),
		tracker:        newSessionTracker(),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// ID returns the endpoint's stable identifier.
func (e *Endpoint) ID() uint32 { return e.id }

// Binding returns the address this endpoint listens on.
func (e *Endpoint) Binding() address.BindingAddress { return e.binding }

func (e *Endpoint) newSynchronizer(role exchange.Role) exchange.Synchronizer {
	return e.synthesize(role)
}

func (e *Endpoint) connectProtocol() peer.ConnectProtocol { return e.connectProt }

// Startup binds the listener and spawns the accept loop. Publishes
// EndpointStarted on success, or BindingFailed (and CriticalNetworkFailure,
// unless the cause is Canceled) on failure.
func (e *Endpoint) Startup() error {
	listener, err := net.Listen("tcp", e.binding.Authority())
	if err != nil {
		cause := classifyBindingError(err)
		e.bus.Publish(eventbus.BindingFailed{EndpointID: e.id, Binding: e.binding, Cause: cause})
		if cause != eventbus.BindingCanceled {
			e.bus.Publish(eventbus.CriticalNetworkFailure{})
		}
		return fmt.Errorf("endpoint: bind %s: %w", e.binding.URI(), err)
	}

	e.listener = listener
	e.mediator.RegisterBinding(e.binding)
	e.bus.Publish(eventbus.EndpointStarted{EndpointID: e.id, Binding: e.binding})
	e.logger.Info("endpoint started")

	e.wg.Add(1)
	go e.acceptLoop()
	return nil
}

// Shutdown stops the accept loop, closes every live session with cause
// NetworkShutdown, and waits for the endpoint's goroutines to exit.
func (e *Endpoint) Shutdown() {
	e.shutdownMu.Lock()
	e.shuttingDown = true
	e.shutdownMu.Unlock()

	e.shutdownCancel()
	if e.listener != nil {
		_ = e.listener.Close()
	}
	for _, s := range e.tracker.all() {
		s.Stop()
	}
	e.wg.Wait()
	e.mediator.UnregisterBinding(e.binding)
	e.bus.Publish(eventbus.EndpointStopped{EndpointID: e.id, Binding: e.binding, Cause: eventbus.EndpointShutdownRequest})
	e.logger.Info("endpoint stopped")
}

func (e *Endpoint) isShuttingDown() bool {
	e.shutdownMu.Lock()
	defer e.shutdownMu.Unlock()
	return e.shuttingDown
}

func (e *Endpoint) acceptLoop() {
	defer e.wg.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.isShuttingDown() {
				return
			}
			cause := classifyBindingError(err)
			e.bus.Publish(eventbus.BindingFailed{EndpointID: e.id, Binding: e.binding, Cause: cause})
			if cause != eventbus.BindingCanceled {
				e.bus.Publish(eventbus.CriticalNetworkFailure{})
			}
			return
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}
		e.acceptSession(conn)
	}
}

// acceptSession wraps a freshly accepted socket into a tracked, unpromoted
// session: the remote peer's identifier isn't known until its first
// message arrives.
func (e *Endpoint) acceptSession(conn net.Conn) {
	remote, err := remoteAddressOf(conn)
	if err != nil {
		e.logger.WithError(err).Warn("failed to resolve accepted peer's address")
		_ = conn.Close()
		return
	}
	if e.mediator.IsReflective(remote) {
		_ = conn.Close()
		return
	}

	s := session.New(conn, remote, loggerOf(e.logger))
	if !e.tracker.track(remote.URI(), s) {
		_ = conn.Close()
		return
	}

	s.OnReceived(e.onSessionReceived)
	s.OnStopped(e.onSessionStopped)
	s.Start()
}

// attachSession wires a dialed, already-resolving socket to its proxy:
// binds a registration, sends the handshake parcel as the session's first
// message, and starts the session.
func (e *Endpoint) attachSession(conn net.Conn, remote address.RemoteAddress, proxy *peer.Proxy, parcel message.PlatformParcel) {
	s := session.New(conn, remote, loggerOf(e.logger))
	if !e.tracker.track(remote.URI(), s) {
		_ = conn.Close()
		return
	}
	e.tracker.promote(remote.URI(), proxy)

	reg := peer.NewRegistration(e.id, e.binding.Protocol().String(), remote, e.sendActionFor(s), e.disconnectActionFor(s), message.Context{})
	proxy.Bind(reg)
	if proxy.EndpointCount() == 1 {
		e.bus.Publish(eventbus.PeerConnected{Peer: proxy.Identifier(), Remote: remote})
	}

	s.OnReceived(e.onSessionReceived)
	s.OnStopped(e.onSessionStopped)
	s.Start()

	// The Initiator role's Initialize() always produces output (unlike
	// Acceptor's, which waits for the Initiator's first message), so the
	// parcel DeclareResolvingPeer returned is always ready to send here.
	if err := proxy.SendFirstEndpoint(parcel); err != nil {
		e.logger.WithError(err).Warn("failed to send first handshake message")
	}
}

func (e *Endpoint) sendActionFor(s *session.Session) peer.SendAction {
	return func(payload []byte) error {
		if !s.ScheduleSend(payload) {
			return errors.New("endpoint: session is not active")
		}
		return nil
	}
}

func (e *Endpoint) disconnectActionFor(s *session.Session) peer.DisconnectAction {
	return func() error {
		s.Stop()
		return nil
	}
}

// onSessionReceived routes an inbound message: if the session hasn't been
// linked to a proxy yet, the first message's source identifier links it
// (LinkPeer); every subsequent message is forwarded straight to the
// proxy's ScheduleReceive, per spec.md §4.2/§4.4.
func (e *Endpoint) onSessionReceived(s *session.Session, source identifier.ID, buffer []byte) bool {
	uri := s.Address().URI()

	proxy, promoted := e.tracker.proxyFor(uri)
	if !promoted {
		linked, err := e.manager.LinkPeer(source, s.Address(), e.newSynchronizer(exchange.RoleAcceptor), e.connectProtocol())
		if err != nil {
			e.logger.WithError(err).Warn("failed to link inbound peer")
			return false
		}
		e.tracker.promote(uri, linked)

		reg := peer.NewRegistration(e.id, e.binding.Protocol().String(), s.Address(), e.sendActionFor(s), e.disconnectActionFor(s), message.Context{})
		linked.Bind(reg)
		if linked.EndpointCount() == 1 {
			e.bus.Publish(eventbus.PeerConnected{Peer: linked.Identifier(), Remote: s.Address()})
		}
		proxy = linked
	}

	if err := proxy.ScheduleReceive(e.id, buffer); err != nil {
		e.logger.WithError(err).Warn("receiver rejected inbound message")
		return false
	}
	return true
}

// onSessionStopped withdraws the session's endpoint registration from its
// proxy (if one was linked) and untracks it.
func (e *Endpoint) onSessionStopped(s *session.Session, cause session.StopCause) {
	uri := s.Address().URI()
	withdrawal := classifyWithdrawal(cause, e.isShuttingDown())

	if proxy, ok := e.tracker.proxyFor(uri); ok {
		proxy.WithdrawEndpoint(e.id, withdrawal.String())
		if proxy.EndpointCount() == 0 {
			e.bus.Publish(eventbus.PeerDisconnected{Peer: proxy.Identifier(), Remote: s.Address(), Cause: withdrawal})
		}
	}
	e.tracker.untrack(uri)
	e.manager.RescindResolvingPeer(s.Address())
}

func (e *Endpoint) publishConnectionFailed(remote address.RemoteAddress, cause eventbus.ConnectionFailureCause) {
	e.mediator.RecordRejection(remote, cause)
	e.bus.Publish(eventbus.ConnectionFailed{EndpointID: e.id, Remote: remote, Cause: cause})
}

// ScheduleConnect spawns a connect delegate toward remote. id, when known
// (e.g. a configured bootstrap peer), lets the manager reject a connect
// to an already-linked identifier outright.
func (e *Endpoint) ScheduleConnect(remote address.RemoteAddress, id *identifier.ID) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runConnectDelegate(remote, id)
	}()
}

func remoteAddressOf(conn net.Conn) (address.RemoteAddress, error) {
	host, port, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return address.RemoteAddress{}, err
	}
	return address.NewRemoteAddress(address.TCP, fmt.Sprintf("tcp://%s:%s", host, port), false, address.OriginNetwork)
}

func loggerOf(entry *logrus.Entry) *logrus.Logger {
	if entry == nil {
		return logrus.StandardLogger()
	}
	return entry.Logger
}
