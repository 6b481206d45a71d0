// Package message implements the application and platform parcels, their
// extensions, and the ephemeral message context described in spec.md §3
// and §6.
package message

import (
	"fmt"

	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/wire"
)

// Protocol distinguishes application traffic from platform (handshake,
// heartbeat) traffic, per spec.md §3.
type Protocol byte

const (
	ProtocolApplication Protocol = 0
	ProtocolPlatform    Protocol = 1
)

// DestinationType classifies the intended scope of an application parcel.
type DestinationType byte

const (
	DestinationNode DestinationType = iota
	DestinationCluster
	DestinationNetwork
)

// PlatformType enumerates platform-protocol parcel kinds.
type PlatformType byte

const (
	PlatformHandshake PlatformType = iota
	PlatformHeartbeatRequest
	PlatformHeartbeatResponse
)

// Header is shared by both parcel variants.
type Header struct {
	Version         [2]byte
	Protocol        Protocol
	DestinationType DestinationType
	Source          identifier.ID
	Destination     *identifier.ID
}

// ApplicationParcel carries routed request/response/notice traffic.
type ApplicationParcel struct {
	Header     Header
	Route      string
	Payload    []byte
	Extensions []Extension
}

// PlatformParcel carries handshake and heartbeat traffic.
type PlatformParcel struct {
	Header  Header
	Type    PlatformType
	Payload []byte
}

// Awaitable returns the Awaitable extension attached to the parcel, if any.
func (p ApplicationParcel) Awaitable() (Awaitable, bool) {
	for _, ext := range p.Extensions {
		if a, ok := ext.(Awaitable); ok {
			return a, true
		}
	}
	return Awaitable{}, false
}

// Status returns the Status extension attached to the parcel, defaulting
// to Ok when absent, matching the tracking service's Fulfill() behavior
// in spec.md §4.7.
func (p ApplicationParcel) Status() StatusCode {
	for _, ext := range p.Extensions {
		if s, ok := ext.(Status); ok {
			return s.Code
		}
	}
	return StatusOk
}

func toWireExtensions(exts []Extension) ([]wire.Extension, error) {
	out := make([]wire.Extension, 0, len(exts))
	for _, ext := range exts {
		data, err := ext.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, wire.Extension{Type: ext.Type(), Data: data})
	}
	return out, nil
}

func fromWireExtensions(exts []wire.Extension) ([]Extension, error) {
	out := make([]Extension, 0, len(exts))
	for _, ext := range exts {
		parsed, err := UnmarshalExtension(ext.Type, ext.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func (h Header) toFrameFields() (source []byte, destination []byte, hasDestination bool) {
	src := h.Source
	source = src[:]
	if h.Destination != nil {
		d := *h.Destination
		destination = d[:]
		hasDestination = true
	}
	return
}

// EncodeApplication builds the wire.Frame fields for an application
// parcel; validator must be supplied by the caller (computed from the
// active cipher package, or empty during an unauthenticated phase).
func EncodeApplication(p ApplicationParcel, validator []byte) (wire.Frame, error) {
	exts, err := toWireExtensions(p.Extensions)
	if err != nil {
		return wire.Frame{}, err
	}
	source, destination, _ := p.Header.toFrameFields()
	return wire.Frame{
		Version:         p.Header.Version,
		ProtocolID:      byte(ProtocolApplication),
		DestinationType: byte(p.Header.DestinationType),
		Source:          source,
		Destination:     destination,
		Route:           []byte(p.Route),
		Extensions:      exts,
		Payload:         p.Payload,
		Validator:       validator,
	}, nil
}

// DecodeApplication parses a wire.Frame (already known to be
// ProtocolApplication) back into an ApplicationParcel.
func DecodeApplication(f wire.Frame) (ApplicationParcel, error) {
	header, err := headerFromFrame(f)
	if err != nil {
		return ApplicationParcel{}, err
	}
	exts, err := fromWireExtensions(f.Extensions)
	if err != nil {
		return ApplicationParcel{}, err
	}
	return ApplicationParcel{
		Header:     header,
		Route:      string(f.Route),
		Payload:    f.Payload,
		Extensions: exts,
	}, nil
}

// EncodePlatform builds the wire.Frame fields for a platform parcel.
func EncodePlatform(p PlatformParcel, validator []byte) (wire.Frame, error) {
	source, destination, _ := p.Header.toFrameFields()
	payload := make([]byte, 1+len(p.Payload))
	payload[0] = byte(p.Type)
	copy(payload[1:], p.Payload)
	return wire.Frame{
		Version:         p.Header.Version,
		ProtocolID:      byte(ProtocolPlatform),
		DestinationType: byte(p.Header.DestinationType),
		Source:          source,
		Destination:     destination,
		Payload:         payload,
		Validator:       validator,
	}, nil
}

// DecodePlatform parses a wire.Frame (already known to be ProtocolPlatform)
// back into a PlatformParcel.
func DecodePlatform(f wire.Frame) (PlatformParcel, error) {
	header, err := headerFromFrame(f)
	if err != nil {
		return PlatformParcel{}, err
	}
	if len(f.Payload) < 1 {
		return PlatformParcel{}, fmt.Errorf("message: platform parcel missing type byte")
	}
	return PlatformParcel{
		Header:  header,
		Type:    PlatformType(f.Payload[0]),
		Payload: f.Payload[1:],
	}, nil
}

// PeekSource decodes just enough of a raw header-then-body Z85 buffer (the
// layout internal/peer.encodeFrame produces) to recover the sender's
// identifier, without fully parsing routes or extensions. The session
// receiver task uses this to route an inbound message before handing the
// untouched buffer up to a peer's installed Sink, per spec.md §4.3.
func PeekSource(buffer []byte) (identifier.ID, error) {
	const headerZ85Length = wire.HeaderSize / 4 * 5
	if len(buffer) < headerZ85Length {
		return identifier.ID{}, fmt.Errorf("message: buffer shorter than peekable header")
	}
	header, err := wire.DecodeHeader(string(buffer[:headerZ85Length]))
	if err != nil {
		return identifier.ID{}, err
	}
	frame, err := wire.DecodeBody(header, string(buffer[headerZ85Length:]))
	if err != nil {
		return identifier.ID{}, err
	}
	if len(frame.Source) != identifier.Size {
		return identifier.ID{}, fmt.Errorf("message: unexpected source identifier size %d", len(frame.Source))
	}
	var source identifier.ID
	copy(source[:], frame.Source)
	return source, nil
}

func headerFromFrame(f wire.Frame) (Header, error) {
	if len(f.Source) != identifier.Size {
		return Header{}, fmt.Errorf("message: unexpected source identifier size %d", len(f.Source))
	}
	var source identifier.ID
	copy(source[:], f.Source)

	h := Header{
		Version:         f.Version,
		Protocol:        Protocol(f.ProtocolID),
		DestinationType: DestinationType(f.DestinationType),
		Source:          source,
	}
	if len(f.Destination) > 0 {
		if len(f.Destination) != identifier.Size {
			return Header{}, fmt.Errorf("message: unexpected destination identifier size %d", len(f.Destination))
		}
		var dest identifier.ID
		copy(dest[:], f.Destination)
		h.Destination = &dest
	}
	return h, nil
}
