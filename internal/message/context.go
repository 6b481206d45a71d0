package message

import "github.com/brypt-mesh/node/internal/identifier"

// PeerProxy is the minimal view of a peer.Proxy that a Context needs. It is
// declared here, rather than imported from internal/peer, so that
// internal/peer can depend on internal/message without a cycle.
type PeerProxy interface {
	Identifier() identifier.ID
}

// Context is the ephemeral, per-message handle a Sink receives alongside a
// decoded parcel: who it arrived from, over what transport, and the
// cipher-package closures needed to encrypt/sign a reply, per spec.md §4.3.
type Context struct {
	EndpointID       uint32
	EndpointProtocol string
	Proxy            PeerProxy

	Encrypt func(plaintext []byte) ([]byte, error)
	Decrypt func(ciphertext []byte) ([]byte, error)
	Sign    func(data []byte) ([]byte, error)
	Verify  func(data, signature []byte) error
}

// Source returns the identifier of the peer this context was built for, or
// the zero identifier if no proxy is bound yet (e.g. during handshake).
func (c Context) Source() identifier.ID {
	if c.Proxy == nil {
		return identifier.ID{}
	}
	return c.Proxy.Identifier()
}
