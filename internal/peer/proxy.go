package peer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brypt-mesh/node/internal/awaitable"
	"github.com/brypt-mesh/node/internal/cipher"
	"github.com/brypt-mesh/node/internal/exchange"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
	"github.com/brypt-mesh/node/internal/wire"
)

var (
	ErrEndpointUnregistered = errors.New("peer: endpoint not registered")
	ErrNoReceiver           = errors.New("peer: no receiver installed")
	ErrResolverAttached     = errors.New("peer: resolver already attached")
	ErrNoEndpoints          = errors.New("peer: proxy has no registered endpoints")
)

// ResolutionObserver is the manager's view of a Proxy's lifecycle events,
// per spec.md §4.4's OnEndpointRegistered/OnEndpointWithdrawn.
type ResolutionObserver interface {
	OnEndpointRegistered(proxy *Proxy, endpointID uint32)
	OnEndpointWithdrawn(proxy *Proxy, endpointID uint32, cause string)
}

// Proxy is the peer aggregate of spec.md §4.6: the single point of
// contact the rest of the runtime uses to talk to one remote node, no
// matter how many endpoints currently reach it.
type Proxy struct {
	id identifier.ID

	endpointsMu sync.Mutex
	endpoints   map[uint32]*Registration
	order       []uint32 // registration order; the head is the preferred endpoint

	receiverMu sync.Mutex
	receiver   message.Sink

	cipherMu   sync.RWMutex
	cipherPkg  cipher.Package
	authorized bool

	resolverMu sync.Mutex
	resolver   *Resolver

	appSink message.Sink

	received atomic.Uint64
	sent     atomic.Uint64

	tracking *awaitable.Service
	observer ResolutionObserver
}

// NewProxy builds a proxy for the given peer identifier.
func NewProxy(id identifier.ID, tracking *awaitable.Service, observer ResolutionObserver) *Proxy {
	return &Proxy{
		id:        id,
		endpoints: make(map[uint32]*Registration),
		tracking:  tracking,
		observer:  observer,
	}
}

// Identifier satisfies message.PeerProxy.
func (p *Proxy) Identifier() identifier.ID { return p.id }

// IsAuthorized reports whether a handshake has installed a cipher package.
func (p *Proxy) IsAuthorized() bool {
	p.cipherMu.RLock()
	defer p.cipherMu.RUnlock()
	return p.authorized
}

// ScheduleReceive delivers buffer to the enabled receiver's CollectMessage,
// binding it to the context of the endpoint it arrived on.
func (p *Proxy) ScheduleReceive(endpointID uint32, buffer []byte) error {
	p.endpointsMu.Lock()
	reg, ok := p.endpoints[endpointID]
	p.endpointsMu.Unlock()
	if !ok {
		return ErrEndpointUnregistered
	}

	p.receiverMu.Lock()
	receiver := p.receiver
	p.receiverMu.Unlock()
	if receiver == nil {
		return ErrNoReceiver
	}

	p.received.Add(1)
	if !receiver.CollectMessage(reg.Context(), buffer) {
		return fmt.Errorf("peer: receiver rejected message from endpoint %d", endpointID)
	}
	return nil
}

// ScheduleSend hands an already-framed payload to one endpoint's send
// action.
func (p *Proxy) ScheduleSend(endpointID uint32, payload []byte) error {
	p.endpointsMu.Lock()
	reg, ok := p.endpoints[endpointID]
	p.endpointsMu.Unlock()
	if !ok {
		return ErrEndpointUnregistered
	}
	p.sent.Add(1)
	return reg.send(payload)
}

// Statistics reports how many messages this proxy has sent and received,
// across every endpoint it has ever been reachable through.
func (p *Proxy) Statistics() (sent, received uint64) {
	return p.sent.Load(), p.received.Load()
}

// Request stages a trackable request and sends it through this peer's
// preferred (first-registered) endpoint, returning the tracker key.
func (p *Proxy) Request(builder message.ApplicationParcel, onResponse awaitable.OnResponse, onError awaitable.OnError) (awaitable.Key, error) {
	p.endpointsMu.Lock()
	reg := p.firstRegistrationLocked()
	p.endpointsMu.Unlock()
	if reg == nil {
		return awaitable.Key{}, ErrNoEndpoints
	}

	dest := p.id
	builder.Header.Destination = &dest
	key := p.tracking.StageRequest([]identifier.ID{p.id}, onResponse, onError, &builder)

	framed, err := p.frameApplication(builder)
	if err != nil {
		return awaitable.Key{}, err
	}
	if err := reg.send(framed); err != nil {
		return awaitable.Key{}, err
	}
	p.sent.Add(1)
	return key, nil
}

// SendResponse satisfies awaitable.ResponseSink: it sends an already-built
// application parcel (an aggregate deferred-tracker reply) through this
// peer's preferred endpoint.
func (p *Proxy) SendResponse(parcel message.ApplicationParcel) error {
	p.endpointsMu.Lock()
	reg := p.firstRegistrationLocked()
	p.endpointsMu.Unlock()
	if reg == nil {
		return ErrNoEndpoints
	}
	framed, err := p.frameApplication(parcel)
	if err != nil {
		return err
	}
	if err := reg.send(framed); err != nil {
		return err
	}
	p.sent.Add(1)
	return nil
}

// SendFirstEndpoint satisfies exchange.Proxy: it returns handshake output
// to the peer through the first registered endpoint, unencrypted (the
// cipher package doesn't exist until the handshake completes).
func (p *Proxy) SendFirstEndpoint(parcel message.PlatformParcel) error {
	p.endpointsMu.Lock()
	reg := p.firstRegistrationLocked()
	p.endpointsMu.Unlock()
	if reg == nil {
		return ErrNoEndpoints
	}
	framed, err := p.framePlatform(parcel)
	if err != nil {
		return err
	}
	if err := reg.send(framed); err != nil {
		return err
	}
	p.sent.Add(1)
	return nil
}

// StartExchange attaches a fresh resolver for role and immediately prepares
// the handshake. It does not send the returned parcel: for the Acceptor
// role Initialize() never produces one (it waits for the Initiator's first
// message), and for the Initiator role called from DeclareResolvingPeer no
// endpoint is registered yet (no session exists until the connect delegate
// dials out) — the caller is responsible for scheduling the parcel as the
// session's first send once one exists, per spec.md §4.2.
func (p *Proxy) StartExchange(local identifier.ID, role exchange.Role, synchronizer exchange.Synchronizer, connect ConnectProtocol) (message.PlatformParcel, bool, error) {
	resolver := NewResolver(p, local, role, synchronizer, connect)
	if err := p.AttachResolver(resolver); err != nil {
		return message.PlatformParcel{}, false, err
	}
	return resolver.Prepare()
}

// hasResolver reports whether a handshake resolver is currently attached.
func (p *Proxy) hasResolver() bool {
	p.resolverMu.Lock()
	defer p.resolverMu.Unlock()
	return p.resolver != nil
}

// hasAnyEndpoint reports whether the proxy has at least one registered
// endpoint, the basis for the manager's Active/Inactive filters.
func (p *Proxy) hasAnyEndpoint() bool {
	p.endpointsMu.Lock()
	defer p.endpointsMu.Unlock()
	return len(p.endpoints) > 0
}

// EndpointCount returns the number of endpoints currently registered,
// letting a caller recognize a Bind as the peer's first (for a
// PeerConnected notification) or a WithdrawEndpoint as its last.
func (p *Proxy) EndpointCount() int {
	p.endpointsMu.Lock()
	defer p.endpointsMu.Unlock()
	return len(p.endpoints)
}

func (p *Proxy) firstRegistrationLocked() *Registration {
	for _, id := range p.order {
		if reg, ok := p.endpoints[id]; ok {
			return reg
		}
	}
	return nil
}

func (p *Proxy) registerLocked(reg *Registration) {
	reg.setContext(p.messageContext())
	if _, exists := p.endpoints[reg.endpointID]; !exists {
		p.order = append(p.order, reg.endpointID)
	}
	p.endpoints[reg.endpointID] = reg
}

func (p *Proxy) messageContext() message.Context {
	return message.Context{
		Proxy: p,
		Encrypt: func(plaintext []byte) ([]byte, error) {
			p.cipherMu.RLock()
			defer p.cipherMu.RUnlock()
			if p.cipherPkg == nil {
				return plaintext, nil
			}
			return p.cipherPkg.Encrypt(plaintext)
		},
		Decrypt: func(ciphertext []byte) ([]byte, error) {
			p.cipherMu.RLock()
			defer p.cipherMu.RUnlock()
			if p.cipherPkg == nil {
				return ciphertext, nil
			}
			return p.cipherPkg.Decrypt(ciphertext)
		},
		Sign: func(data []byte) ([]byte, error) {
			p.cipherMu.RLock()
			defer p.cipherMu.RUnlock()
			if p.cipherPkg == nil {
				return nil, cipher.ErrUnsupported
			}
			return p.cipherPkg.Sign(data)
		},
		Verify: func(data, signature []byte) error {
			p.cipherMu.RLock()
			defer p.cipherMu.RUnlock()
			if p.cipherPkg == nil {
				return cipher.ErrUnsupported
			}
			return p.cipherPkg.Verify(data, signature)
		},
	}
}

// Bind registers reg as this peer's endpoint, installing cipher-backed
// message-context closures, and notifies the resolution observer.
func (p *Proxy) Bind(reg *Registration) {
	p.endpointsMu.Lock()
	p.registerLocked(reg)
	p.endpointsMu.Unlock()
	if p.observer != nil {
		p.observer.OnEndpointRegistered(p, reg.endpointID)
	}
}

// WithdrawEndpoint removes a registration; if it was the last one, the
// cipher package, receiver, and authorization are reset.
func (p *Proxy) WithdrawEndpoint(endpointID uint32, cause string) {
	p.endpointsMu.Lock()
	delete(p.endpoints, endpointID)
	for i, id := range p.order {
		if id == endpointID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	remaining := len(p.endpoints)
	p.endpointsMu.Unlock()

	if remaining == 0 {
		p.receiverMu.Lock()
		p.receiver = nil
		p.receiverMu.Unlock()

		p.cipherMu.Lock()
		p.cipherPkg = nil
		p.authorized = false
		p.cipherMu.Unlock()
	}

	if p.observer != nil {
		p.observer.OnEndpointWithdrawn(p, endpointID, cause)
	}
}

// AttachResolver installs resolver's exchange processor as the enabled
// receiver. Only valid when no resolver is currently attached.
func (p *Proxy) AttachResolver(resolver *Resolver) error {
	p.resolverMu.Lock()
	defer p.resolverMu.Unlock()
	if p.resolver != nil {
		return ErrResolverAttached
	}
	p.resolver = resolver

	p.receiverMu.Lock()
	p.receiver = resolver
	p.receiverMu.Unlock()
	return nil
}

// DetachResolver clears the attached resolver, e.g. after handshake
// failure, reverting the proxy to Unauthorized.
func (p *Proxy) DetachResolver() {
	p.resolverMu.Lock()
	p.resolver = nil
	p.resolverMu.Unlock()

	p.receiverMu.Lock()
	p.receiver = nil
	p.receiverMu.Unlock()
}

// InstallSink swaps the proxy's enabled receiver to sink. Called once a
// handshake succeeds to move the receiver off the terminal-state Resolver
// and onto the application-level sink, per spec.md §2/§3 ("authorized ⇒
// enabled receiver is the authorized sink"). A nil sink (no application
// sink configured) clears the receiver rather than leaving it on the
// Resolver, so post-handshake traffic fails with ErrNoReceiver instead of
// tripping the processor's terminal-state rejection.
func (p *Proxy) InstallSink(sink message.Sink) {
	p.receiverMu.Lock()
	p.receiver = sink
	p.receiverMu.Unlock()
}

// onExchangeSuccess installs the negotiated cipher package, marks the
// proxy authorized, and swaps the receiver to the configured application
// sink; called by Resolver once its processor finalizes.
func (p *Proxy) onExchangeSuccess(pkg cipher.Package) {
	p.cipherMu.Lock()
	p.cipherPkg = pkg
	p.authorized = true
	p.cipherMu.Unlock()
	p.InstallSink(p.appSink)
}

// onExchangeFailure reverts authorization; called by Resolver on failure.
func (p *Proxy) onExchangeFailure() {
	p.cipherMu.Lock()
	p.cipherPkg = nil
	p.authorized = false
	p.cipherMu.Unlock()
	p.DetachResolver()
}

// ScheduleDisconnect invokes every registration's disconnect action.
func (p *Proxy) ScheduleDisconnect() {
	p.endpointsMu.Lock()
	regs := make([]*Registration, 0, len(p.endpoints))
	for _, reg := range p.endpoints {
		regs = append(regs, reg)
	}
	p.endpointsMu.Unlock()

	for _, reg := range regs {
		if reg.disconnect != nil {
			_ = reg.disconnect()
		}
	}
}

func (p *Proxy) frameApplication(parcel message.ApplicationParcel) ([]byte, error) {
	var validator []byte
	p.cipherMu.RLock()
	pkg := p.cipherPkg
	p.cipherMu.RUnlock()

	if pkg != nil {
		encrypted, err := pkg.Encrypt(parcel.Payload)
		if err != nil {
			return nil, fmt.Errorf("peer: encrypt application payload: %w", err)
		}
		parcel.Payload = encrypted
		if signature, err := pkg.Sign(parcel.Payload); err == nil {
			validator = signature
		}
	}

	frame, err := message.EncodeApplication(parcel, validator)
	if err != nil {
		return nil, err
	}
	return encodeFrame(frame)
}

func (p *Proxy) framePlatform(parcel message.PlatformParcel) ([]byte, error) {
	frame, err := message.EncodePlatform(parcel, nil)
	if err != nil {
		return nil, err
	}
	return encodeFrame(frame)
}

func encodeFrame(frame wire.Frame) ([]byte, error) {
	headerZ85, err := wire.EncodeHeader(frame)
	if err != nil {
		return nil, err
	}
	bodyZ85, err := wire.EncodeBody(frame)
	if err != nil {
		return nil, err
	}
	return append([]byte(headerZ85), []byte(bodyZ85)...), nil
}
