// Package eventbus implements the typed pub/sub described in spec.md §4.8:
// endpoint and peer lifecycle events, drained from a controlled context
// rather than delivered inline to publishers.
package eventbus

import (
	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/identifier"
)

// Type identifies one of the advertised event schemas.
type Type int

const (
	TypeEndpointStarted Type = iota
	TypeEndpointStopped
	TypeBindingFailed
	TypeConnectionFailed
	TypePeerConnected
	TypePeerDisconnected
	TypeCriticalNetworkFailure
	TypeRuntimeStarted
	TypeRuntimeStopped
)

func (t Type) String() string {
	switch t {
	case TypeEndpointStarted:
		return "endpoint-started"
	case TypeEndpointStopped:
		return "endpoint-stopped"
	case TypeBindingFailed:
		return "binding-failed"
	case TypeConnectionFailed:
		return "connection-failed"
	case TypePeerConnected:
		return "peer-connected"
	case TypePeerDisconnected:
		return "peer-disconnected"
	case TypeCriticalNetworkFailure:
		return "critical-network-failure"
	case TypeRuntimeStarted:
		return "runtime-started"
	case TypeRuntimeStopped:
		return "runtime-stopped"
	default:
		return "unknown"
	}
}

// AdvertisedTypes lists every event type publishers may emit, per spec.md
// §4.8. Returned fresh each call so callers can't mutate the package's set.
func AdvertisedTypes() []Type {
	return []Type{
		TypeEndpointStarted, TypeEndpointStopped, TypeBindingFailed, TypeConnectionFailed,
		TypePeerConnected, TypePeerDisconnected, TypeCriticalNetworkFailure,
		TypeRuntimeStarted, TypeRuntimeStopped,
	}
}

// BindingFailureCause classifies why a listener failed to bind, per the TCP
// endpoint's Agent::Listener::GetFailure switch.
type BindingFailureCause int

const (
	BindingCanceled BindingFailureCause = iota
	BindingAddressInUse
	BindingOffline
	BindingUnreachable
	BindingPermissions
	BindingUnexpectedError
)

// ConnectionFailureCause classifies why an outbound connect attempt failed
// or was rejected before it started.
type ConnectionFailureCause int

const (
	ConnectionCanceled ConnectionFailureCause = iota
	ConnectionInProgress
	ConnectionDuplicate
	ConnectionReflective
	ConnectionRefused
	ConnectionOffline
	ConnectionUnreachable
	ConnectionPermissions
	ConnectionUnexpectedError
)

// EndpointStopCause classifies why an endpoint itself shut down.
type EndpointStopCause int

const (
	EndpointShutdownRequest EndpointStopCause = iota
	EndpointBindingFailed
	EndpointUnexpectedError
)

// WithdrawalCause classifies why a peer's endpoint registration was
// withdrawn, per spec.md §4.3. It widens internal/session.StopCause with
// NetworkShutdown, which has no session-local trigger.
type WithdrawalCause int

const (
	DisconnectRequest WithdrawalCause = iota
	SessionClosure
	NetworkShutdown
	UnexpectedError
)

func (c WithdrawalCause) String() string {
	switch c {
	case DisconnectRequest:
		return "disconnect-request"
	case SessionClosure:
		return "session-closure"
	case NetworkShutdown:
		return "network-shutdown"
	default:
		return "unexpected-error"
	}
}

// RuntimeStopCause classifies why the whole node shut down.
type RuntimeStopCause int

const (
	RuntimeShutdownRequest RuntimeStopCause = iota
	RuntimeUnexpectedError
)

// Event is anything a Bus can carry; EventType selects the schema a
// subscriber should expect from the concrete value.
type Event interface {
	EventType() Type
}

// EndpointStarted reports a listener entering its accept loop.
type EndpointStarted struct {
	EndpointID uint32
	Binding    address.BindingAddress
}

func (EndpointStarted) EventType() Type { return TypeEndpointStarted }

// EndpointStopped reports a listener leaving its accept loop.
type EndpointStopped struct {
	EndpointID uint32
	Binding    address.BindingAddress
	Cause      EndpointStopCause
}

func (EndpointStopped) EventType() Type { return TypeEndpointStopped }

// BindingFailed reports a listener socket failing to bind.
type BindingFailed struct {
	EndpointID uint32
	Binding    address.BindingAddress
	Cause      BindingFailureCause
}

func (BindingFailed) EventType() Type { return TypeBindingFailed }

// ConnectionFailed reports an outbound connect attempt failing or being
// rejected by the conflict mediator.
type ConnectionFailed struct {
	EndpointID uint32
	Remote     address.RemoteAddress
	Cause      ConnectionFailureCause
}

func (ConnectionFailed) EventType() Type { return TypeConnectionFailed }

// PeerConnected reports a peer's first endpoint registration. It is
// published when a session is bound to a proxy with no other endpoint,
// before that session's handshake has completed.
type PeerConnected struct {
	Peer   identifier.ID
	Remote address.RemoteAddress
}

func (PeerConnected) EventType() Type { return TypePeerConnected }

// PeerDisconnected reports a peer's last endpoint registration being
// withdrawn.
type PeerDisconnected struct {
	Peer   identifier.ID
	Remote address.RemoteAddress
	Cause  WithdrawalCause
}

func (PeerDisconnected) EventType() Type { return TypePeerDisconnected }

// CriticalNetworkFailure reports that no endpoint remains functional after a
// binding-failure cascade, per spec.md §7's propagation policy.
type CriticalNetworkFailure struct{}

func (CriticalNetworkFailure) EventType() Type { return TypeCriticalNetworkFailure }

// RuntimeStarted reports the node completing startup.
type RuntimeStarted struct{}

func (RuntimeStarted) EventType() Type { return TypeRuntimeStarted }

// RuntimeStopped reports the node completing shutdown.
type RuntimeStopped struct {
	Cause RuntimeStopCause
}

func (RuntimeStopped) EventType() Type { return TypeRuntimeStopped }
