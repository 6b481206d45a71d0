package message

import (
	"encoding/binary"
	"fmt"
)

// Extension is anything that can be attached to an ApplicationParcel and
// round-tripped through a wire.Extension blob, per spec.md §6.
type Extension interface {
	Type() byte
	MarshalBinary() ([]byte, error)
}

const (
	extensionTypeAwaitable byte = 1
	extensionTypeStatus    byte = 2
)

// AwaitableBinding distinguishes the extension on an outbound request
// (including a deferred notice) from the one on the response that answers
// it, per spec.md §4.7.
type AwaitableBinding byte

const (
	BindingRequest AwaitableBinding = iota
	BindingResponse
)

// Awaitable correlates a parcel with an in-flight tracker entry.
type Awaitable struct {
	Binding AwaitableBinding
	Key     [16]byte
}

func (Awaitable) Type() byte { return extensionTypeAwaitable }

func (a Awaitable) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 1+16)
	buf[0] = byte(a.Binding)
	copy(buf[1:], a.Key[:])
	return buf, nil
}

// StatusCode mirrors the small fixed vocabulary the tracking service uses
// to classify a response, per spec.md §4.7.
type StatusCode uint16

const (
	StatusOk             StatusCode = 200
	StatusAccepted       StatusCode = 202
	StatusBadRequest     StatusCode = 400
	StatusRequestTimeout StatusCode = 408
)

// Status carries a response outcome alongside a parcel.
type Status struct {
	Code StatusCode
}

func (Status) Type() byte { return extensionTypeStatus }

func (s Status) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(s.Code))
	return buf, nil
}

// UnmarshalExtension parses a raw wire extension back into its typed form.
func UnmarshalExtension(typ byte, data []byte) (Extension, error) {
	switch typ {
	case extensionTypeAwaitable:
		if len(data) != 17 {
			return nil, fmt.Errorf("message: awaitable extension requires 17 bytes, got %d", len(data))
		}
		a := Awaitable{Binding: AwaitableBinding(data[0])}
		copy(a.Key[:], data[1:])
		return a, nil
	case extensionTypeStatus:
		if len(data) != 2 {
			return nil, fmt.Errorf("message: status extension requires 2 bytes, got %d", len(data))
		}
		return Status{Code: StatusCode(binary.LittleEndian.Uint16(data))}, nil
	default:
		return nil, fmt.Errorf("message: unknown extension type %d", typ)
	}
}
