package peer

import (
	"github.com/brypt-mesh/node/internal/cipher"
	"github.com/brypt-mesh/node/internal/exchange"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
	"github.com/brypt-mesh/node/internal/wire"
)

// headerZ85Length is the constant Z85-text length of the peekable wire
// header (HeaderSize raw bytes, 4 bytes -> 5 Z85 characters): a receiver
// always reads exactly this many bytes first, per spec.md §4.3.
const headerZ85Length = wire.HeaderSize / 4 * 5

// decodePlatformBuffer splits a raw inbound buffer (the same
// header-then-body Z85 layout internal/peer.encodeFrame produces) back
// into a platform parcel.
func decodePlatformBuffer(buffer []byte) (message.PlatformParcel, bool) {
	if len(buffer) < headerZ85Length {
		return message.PlatformParcel{}, false
	}
	header, err := wire.DecodeHeader(string(buffer[:headerZ85Length]))
	if err != nil {
		return message.PlatformParcel{}, false
	}
	frame, err := wire.DecodeBody(header, string(buffer[headerZ85Length:]))
	if err != nil {
		return message.PlatformParcel{}, false
	}
	parcel, err := message.DecodePlatform(frame)
	if err != nil {
		return message.PlatformParcel{}, false
	}
	return parcel, true
}

// ConnectProtocol is invoked once an Initiator-role handshake succeeds to
// dispatch the post-handshake application-level connect request.
type ConnectProtocol interface {
	SendRequest(proxy *Proxy) error
}

// Resolver is the transient handshake owner attached to a Proxy for the
// duration of one exchange, per spec.md §4.4/§4.5. It implements
// message.Sink (so the proxy can install it as the enabled receiver) and
// exchange.Observer (to react to the processor's terminal state); its
// connectAdapter supplies exchange.ConnectProtocol (for the Initiator role).
type Resolver struct {
	proxy     *Proxy
	processor *exchange.Processor
	connect   ConnectProtocol
}

// NewResolver builds a resolver owning a fresh processor for role, wired
// to notify this resolver on completion and to send synchronizer output
// through proxy. local is this node's own identifier, not the proxy's: it
// becomes the source of every outbound handshake parcel and the value
// inbound destinations are checked against.
func NewResolver(proxy *Proxy, local identifier.ID, role exchange.Role, synchronizer exchange.Synchronizer, connect ConnectProtocol) *Resolver {
	r := &Resolver{proxy: proxy, connect: connect}
	r.processor = exchange.NewProcessor(role, synchronizer, local, r, proxy, connectAdapter{r})
	return r
}

// connectAdapter lets Resolver satisfy exchange.ConnectProtocol (which
// takes no proxy argument) while Resolver's own ConnectProtocol field
// keeps a reference to the owning proxy for callers outside this package.
type connectAdapter struct{ resolver *Resolver }

func (a connectAdapter) SendRequest() error {
	if a.resolver.connect == nil {
		return nil
	}
	return a.resolver.connect.SendRequest(a.resolver.proxy)
}

// Prepare starts the handshake, returning the first parcel to send (if
// any) for the Initiator role.
func (r *Resolver) Prepare() (message.PlatformParcel, bool, error) {
	return r.processor.Prepare()
}

// CollectMessage satisfies message.Sink: it feeds an inbound handshake
// parcel to the processor. Non-platform parcels are rejected, since a
// resolver is only ever the enabled receiver during Synchronization.
func (r *Resolver) CollectMessage(ctx message.Context, buffer []byte) bool {
	parcel, ok := decodePlatformBuffer(buffer)
	if !ok {
		return false
	}
	return r.processor.CollectMessage(parcel) == nil
}

// OnExchangeSuccess satisfies exchange.Observer.
func (r *Resolver) OnExchangeSuccess(pkg cipher.Package) {
	r.proxy.onExchangeSuccess(pkg)
}

// OnExchangeFailure satisfies exchange.Observer.
func (r *Resolver) OnExchangeFailure() {
	r.proxy.onExchangeFailure()
}
