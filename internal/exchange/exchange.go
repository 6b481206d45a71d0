// Package exchange implements the handshake state machine described in
// spec.md §4.5: a processor that drives a pluggable Synchronizer through
// Initialization, Synchronization, and a terminal Success or Failure.
package exchange

import (
	"errors"
	"fmt"
	"sync"

	"github.com/brypt-mesh/node/internal/cipher"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

// Status is a synchronizer step's outcome.
type Status int

const (
	StatusProcessing Status = iota
	StatusReady
	StatusError
)

// Role identifies which side of the handshake a processor drives.
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "acceptor"
}

// Synchronizer is the cryptographic state machine a Processor drives. Two
// implementations exist: the post-quantum suite (internal/cipher Kyber768 +
// Ed25519) and the classic suite (Noise XX via flynn/noise).
type Synchronizer interface {
	Initialize() (Status, []byte, error)
	Synchronize(in []byte) (Status, []byte, error)
	Finalize() (cipher.Package, bool)
	Stages() int
	CurrentStatus() Status
}

// Observer is notified once a processor reaches a terminal state.
type Observer interface {
	OnExchangeSuccess(pkg cipher.Package)
	OnExchangeFailure()
}

// ConnectProtocol is invoked by an Initiator processor immediately after a
// successful handshake to dispatch the post-handshake application-level
// connect request.
type ConnectProtocol interface {
	SendRequest() error
}

// Proxy is the minimal sink a processor needs to return synchronizer
// output to the peer. internal/peer.Proxy satisfies this.
type Proxy interface {
	SendFirstEndpoint(parcel message.PlatformParcel) error
}

type state int

const (
	stateInitialization state = iota
	stateSynchronization
	stateSuccess
	stateFailure
)

// ErrHandshakeFailed is returned from the CollectMessage/Prepare call that
// moves the processor into Failure; a CollectMessage call made after that
// returns ErrNotInSynchronization.
var ErrHandshakeFailed = errors.New("exchange: handshake failed")

// ErrNotInSynchronization is returned when CollectMessage is invoked
// outside the Synchronization state.
var ErrNotInSynchronization = errors.New("exchange: not in synchronization state")

// Processor is the handshake state machine of spec.md §4.5.
type Processor struct {
	mu    sync.Mutex
	role  Role
	sync  Synchronizer
	local identifier.ID

	observer Observer
	connect  ConnectProtocol
	proxy    Proxy

	state state
}

// NewProcessor builds a processor for one handshake attempt. connect may
// be nil for an Acceptor, which never dispatches a connect request.
func NewProcessor(role Role, synchronizer Synchronizer, local identifier.ID, observer Observer, proxy Proxy, connect ConnectProtocol) *Processor {
	return &Processor{
		role:     role,
		sync:     synchronizer,
		local:    local,
		observer: observer,
		proxy:    proxy,
		connect:  connect,
		state:    stateInitialization,
	}
}

// Role reports which side of the handshake this processor drives.
func (p *Processor) Role() Role { return p.role }

// Prepare invokes the synchronizer's Initialize exactly once. The bool
// return reports whether a parcel should be sent (an Acceptor with
// nothing to send yet on Initialize returns false).
func (p *Processor) Prepare() (message.PlatformParcel, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, out, err := p.sync.Initialize()
	if err != nil || status == StatusError {
		p.failLocked()
		return message.PlatformParcel{}, false, ErrHandshakeFailed
	}

	p.state = stateSynchronization
	if len(out) == 0 {
		return message.PlatformParcel{}, false, nil
	}
	return p.wrapLocked(out), true, nil
}

// CollectMessage is only valid in the Synchronization state. It validates
// the parcel's destination, drives the synchronizer forward, and either
// emits a reply, stays in Synchronization, or reaches a terminal state.
func (p *Processor) CollectMessage(parcel message.PlatformParcel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateSynchronization {
		return ErrNotInSynchronization
	}
	if parcel.Type != message.PlatformHandshake || parcel.Header.DestinationType != message.DestinationNode {
		p.failLocked()
		return fmt.Errorf("%w: not a node-directed handshake parcel", ErrHandshakeFailed)
	}
	if parcel.Header.Destination != nil && *parcel.Header.Destination != p.local {
		p.failLocked()
		return fmt.Errorf("%w: destination mismatch", ErrHandshakeFailed)
	}

	status, out, err := p.sync.Synchronize(parcel.Payload)
	if err != nil || status == StatusError {
		p.failLocked()
		return ErrHandshakeFailed
	}

	if len(out) > 0 {
		// The send runs without the lock held: a synchronous proxy may
		// deliver the peer's reply straight back into this CollectMessage.
		reply := p.wrapLocked(out)
		p.mu.Unlock()
		err := p.proxy.SendFirstEndpoint(reply)
		p.mu.Lock()
		if err != nil {
			p.failLocked()
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		if p.state == stateFailure {
			return ErrHandshakeFailed
		}
		if p.state == stateSuccess {
			return nil
		}
	}
	if status == StatusProcessing {
		return nil
	}

	// StatusReady: the synchronizer may have bundled its last outbound
	// message (already sent above) with the transition to Ready, so both
	// the Noise XX suite (final message carries no reply need) and the
	// two-message Kyber768 suite (acceptor's reply completes its side)
	// finalize cleanly here.
	pkg, ok := p.sync.Finalize()
	if !ok {
		p.failLocked()
		return ErrHandshakeFailed
	}
	p.state = stateSuccess
	p.observer.OnExchangeSuccess(pkg)
	if p.role == RoleInitiator && p.connect != nil {
		if err := p.connect.SendRequest(); err != nil {
			return fmt.Errorf("exchange: post-handshake connect request: %w", err)
		}
	}
	return nil
}

// CurrentState reports the processor's terminal outcome, if any.
func (p *Processor) CurrentState() (success, failure bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateSuccess, p.state == stateFailure
}

func (p *Processor) failLocked() {
	if p.state == stateFailure {
		return
	}
	p.state = stateFailure
	p.observer.OnExchangeFailure()
}

func (p *Processor) wrapLocked(payload []byte) message.PlatformParcel {
	return message.PlatformParcel{
		Header: message.Header{
			DestinationType: message.DestinationNode,
			Source:          p.local,
		},
		Type:    message.PlatformHandshake,
		Payload: payload,
	}
}
