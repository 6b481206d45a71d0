package wire

import (
	"encoding/binary"
	"fmt"
)

// MaxDeclaredSize is the largest size any single length field on the wire
// may declare, per spec.md §4.1 step 3.
const MaxDeclaredSize = 1<<32 - 1

// HeaderSize is the fixed, Z85-encodable (multiple of 4) size of the
// peekable header prefix described in spec.md §4.1: a receiver reads
// exactly this many raw bytes, Z85-decodes them, and learns everything
// needed to size the second read (the body).
//
// This implementation's peekable header carries the component size fields
// from spec.md §6 (source/destination identifier sizes, route size,
// payload size, extension count) plus two derived fields — the padded and
// actual byte lengths of everything that follows — so the second read can
// be sized without having to parse extension-level size fields first. This
// is an engineering decision filling a gap the prose specification leaves
// to the implementer (see DESIGN.md).
const HeaderSize = 24

// Header is the fixed-size peekable header.
type Header struct {
	Version         [2]byte
	ProtocolID      byte
	DestinationType byte
	HasDestination  bool
	SourceIDSize    byte
	DestIDSize      byte
	RouteSize       uint16
	PayloadSize     uint32
	ExtensionsCount byte
	BodyPaddedSize  uint32
	BodyActualSize  uint32
}

// MarshalBinary writes h into its fixed 24-byte wire representation.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1] = h.Version[0], h.Version[1]
	buf[2] = h.ProtocolID
	buf[3] = h.DestinationType
	if h.HasDestination {
		buf[4] = 1
	}
	buf[5] = h.SourceIDSize
	buf[6] = h.DestIDSize
	binary.LittleEndian.PutUint16(buf[7:9], h.RouteSize)
	binary.LittleEndian.PutUint32(buf[9:13], h.PayloadSize)
	buf[13] = h.ExtensionsCount
	// buf[14] reserved
	binary.LittleEndian.PutUint32(buf[15:19], h.BodyPaddedSize)
	binary.LittleEndian.PutUint32(buf[19:23], h.BodyActualSize)
	// buf[23] reserved
	return buf, nil
}

// UnmarshalBinary parses exactly HeaderSize bytes into h.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) != HeaderSize {
		return fmt.Errorf("wire: header requires exactly %d bytes, got %d", HeaderSize, len(buf))
	}
	h.Version = [2]byte{buf[0], buf[1]}
	h.ProtocolID = buf[2]
	h.DestinationType = buf[3]
	h.HasDestination = buf[4] != 0
	h.SourceIDSize = buf[5]
	h.DestIDSize = buf[6]
	h.RouteSize = binary.LittleEndian.Uint16(buf[7:9])
	h.PayloadSize = binary.LittleEndian.Uint32(buf[9:13])
	h.ExtensionsCount = buf[13]
	h.BodyPaddedSize = binary.LittleEndian.Uint32(buf[15:19])
	h.BodyActualSize = binary.LittleEndian.Uint32(buf[19:23])
	return nil
}

// Extension is a raw, type-tagged extension blob (§6: Awaitable, Status, …).
type Extension struct {
	Type byte
	Data []byte
}

// Frame is the full set of fields a parcel needs to be written to, or read
// from, the wire, independent of whether it is an Application or Platform
// parcel (that distinction lives in ProtocolID / internal/message).
type Frame struct {
	Version         [2]byte
	ProtocolID      byte
	DestinationType byte
	Source          []byte
	Destination     []byte // nil/empty when no destination
	Route           []byte // only meaningful for Application parcels
	Extensions      []Extension
	Payload         []byte
	Validator       []byte
}

func (f Frame) hasDestination() bool { return len(f.Destination) > 0 }

// rawBody assembles the unpadded byte sequence for everything after the
// peekable header, in the field order fixed by spec.md §6.
func (f Frame) rawBody() []byte {
	buf := make([]byte, 0, len(f.Source)+len(f.Destination)+2+len(f.Route)+len(f.Payload)+len(f.Validator)+16)
	buf = append(buf, f.Source...)
	if f.hasDestination() {
		buf = append(buf, f.Destination...)
	}
	if f.ProtocolID == 0 { // Application
		var routeSize [2]byte
		binary.LittleEndian.PutUint16(routeSize[:], uint16(len(f.Route)))
		buf = append(buf, routeSize[:]...)
		buf = append(buf, f.Route...)
	}
	for _, ext := range f.Extensions {
		var sizeBuf [2]byte
		binary.LittleEndian.PutUint16(sizeBuf[:], uint16(len(ext.Data)))
		buf = append(buf, ext.Type)
		buf = append(buf, sizeBuf[:]...)
		buf = append(buf, ext.Data...)
	}
	buf = append(buf, f.Payload...)
	buf = append(buf, f.Validator...)
	return buf
}

// Header derives this frame's peekable header.
func (f Frame) Header() (Header, error) {
	body := f.rawBody()
	actual := uint64(len(body))
	if actual > MaxDeclaredSize || uint64(len(f.Payload)) > MaxDeclaredSize {
		return Header{}, fmt.Errorf("wire: declared size exceeds %d", MaxDeclaredSize)
	}
	padded := actual
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}
	return Header{
		Version:         f.Version,
		ProtocolID:      f.ProtocolID,
		DestinationType: f.DestinationType,
		HasDestination:  f.hasDestination(),
		SourceIDSize:    byte(len(f.Source)),
		DestIDSize:      byte(len(f.Destination)),
		RouteSize:       uint16(len(f.Route)),
		PayloadSize:     uint32(len(f.Payload)),
		ExtensionsCount: byte(len(f.Extensions)),
		BodyPaddedSize:  uint32(padded),
		BodyActualSize:  uint32(actual),
	}, nil
}

// EncodeHeader returns the Z85 text of this frame's peekable header, ready
// for the first socket write/read.
func EncodeHeader(f Frame) (string, error) {
	h, err := f.Header()
	if err != nil {
		return "", err
	}
	raw, err := h.MarshalBinary()
	if err != nil {
		return "", err
	}
	return Z85Encode(raw)
}

// EncodeBody returns the Z85 text of everything after the peekable header,
// zero-padded to a multiple of 4 bytes as required by Z85.
func EncodeBody(f Frame) (string, error) {
	body := f.rawBody()
	if rem := len(body) % 4; rem != 0 {
		body = append(body, make([]byte, 4-rem)...)
	}
	return Z85Encode(body)
}

// DecodeHeader reads the peekable header out of its Z85 text.
func DecodeHeader(z85 string) (Header, error) {
	raw, err := Z85Decode(z85)
	if err != nil {
		return Header{}, err
	}
	var h Header
	if err := h.UnmarshalBinary(raw); err != nil {
		return Header{}, err
	}
	return h, nil
}

// DecodeBody reads and validates a frame body given its already-parsed
// header, reconstructing source/destination identifiers, route,
// extensions, payload and validator.
func DecodeBody(h Header, z85 string) (Frame, error) {
	raw, err := Z85Decode(z85)
	if err != nil {
		return Frame{}, err
	}
	if uint32(len(raw)) < h.BodyPaddedSize {
		return Frame{}, fmt.Errorf("wire: short body: have %d want %d", len(raw), h.BodyPaddedSize)
	}
	raw = raw[:h.BodyActualSize]

	f := Frame{
		Version:         h.Version,
		ProtocolID:      h.ProtocolID,
		DestinationType: h.DestinationType,
	}

	pos := 0
	take := func(n int) ([]byte, error) {
		if pos+n > len(raw) {
			return nil, fmt.Errorf("wire: malformed body: need %d bytes at offset %d, have %d", n, pos, len(raw))
		}
		out := raw[pos : pos+n]
		pos += n
		return out, nil
	}

	source, err := take(int(h.SourceIDSize))
	if err != nil {
		return Frame{}, err
	}
	f.Source = append([]byte(nil), source...)

	if h.HasDestination {
		dest, err := take(int(h.DestIDSize))
		if err != nil {
			return Frame{}, err
		}
		f.Destination = append([]byte(nil), dest...)
	}

	if h.ProtocolID == 0 { // Application
		sizeBytes, err := take(2)
		if err != nil {
			return Frame{}, err
		}
		if inline := binary.LittleEndian.Uint16(sizeBytes); inline != h.RouteSize {
			return Frame{}, fmt.Errorf("wire: route size mismatch: header %d, body %d", h.RouteSize, inline)
		}
		routeBytes, err := take(int(h.RouteSize))
		if err != nil {
			return Frame{}, err
		}
		f.Route = append([]byte(nil), routeBytes...)
	}

	for i := 0; i < int(h.ExtensionsCount); i++ {
		typeByte, err := take(1)
		if err != nil {
			return Frame{}, err
		}
		sizeBytes, err := take(2)
		if err != nil {
			return Frame{}, err
		}
		size := binary.LittleEndian.Uint16(sizeBytes)
		data, err := take(int(size))
		if err != nil {
			return Frame{}, err
		}
		f.Extensions = append(f.Extensions, Extension{Type: typeByte[0], Data: append([]byte(nil), data...)})
	}

	payload, err := take(int(h.PayloadSize))
	if err != nil {
		return Frame{}, err
	}
	f.Payload = append([]byte(nil), payload...)

	f.Validator = append([]byte(nil), raw[pos:]...)
	return f, nil
}
