// Package peer implements the peer proxy aggregate, its endpoint
// registrations, the handshake resolver, and the two-index peer manager
// described in spec.md §4.4 and §4.6.
package peer

import (
	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/message"
)

// SendAction pushes a fully-framed outbound payload onto a session's
// dispatcher queue; DisconnectAction tears that session down.
type SendAction func(payload []byte) error
type DisconnectAction func() error

// Registration is one endpoint binding for a Proxy: the address it was
// reached at, and the send/disconnect actions the owning session
// installed, per original_source's Peer::Registration.
type Registration struct {
	endpointID uint32
	protocol   string
	address    address.RemoteAddress
	send       SendAction
	disconnect DisconnectAction
	context    message.Context
}

// NewRegistration builds a registration and binds ctx as its message
// context (the encrypt/decrypt/sign/verify closures a Sink receives).
func NewRegistration(endpointID uint32, protocol string, addr address.RemoteAddress, send SendAction, disconnect DisconnectAction, ctx message.Context) *Registration {
	ctx.EndpointID = endpointID
	ctx.EndpointProtocol = protocol
	return &Registration{
		endpointID: endpointID,
		protocol:   protocol,
		address:    addr,
		send:       send,
		disconnect: disconnect,
		context:    ctx,
	}
}

func (r *Registration) EndpointID() uint32             { return r.endpointID }
func (r *Registration) EndpointProtocol() string       { return r.protocol }
func (r *Registration) Address() address.RemoteAddress { return r.address }
func (r *Registration) Context() message.Context       { return r.context }

func (r *Registration) setContext(ctx message.Context) {
	ctx.EndpointID = r.endpointID
	ctx.EndpointProtocol = r.protocol
	r.context = ctx
}
