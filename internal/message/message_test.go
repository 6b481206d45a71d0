package message

import (
	"bytes"
	"testing"

	"github.com/brypt-mesh/node/internal/identifier"
)

func sampleSource() identifier.ID {
	var id identifier.ID
	id[0] = 0xAA
	return id
}

func TestApplicationParcelRoundTrip(t *testing.T) {
	dest := sampleSource()
	dest[0] = 0xBB

	key := [16]byte{1, 2, 3}
	parcel := ApplicationParcel{
		Header: Header{
			Version:         [2]byte{1, 0},
			DestinationType: DestinationNode,
			Source:          sampleSource(),
			Destination:     &dest,
		},
		Route:   "/status",
		Payload: []byte("hello"),
		Extensions: []Extension{
			Awaitable{Binding: BindingRequest, Key: key},
			Status{Code: StatusOk},
		},
	}

	frame, err := EncodeApplication(parcel, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame.ProtocolID != byte(ProtocolApplication) {
		t.Fatalf("expected application protocol id")
	}

	decoded, err := DecodeApplication(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Route != parcel.Route || !bytes.Equal(decoded.Payload, parcel.Payload) {
		t.Fatalf("round trip mismatch: %+v vs %+v", parcel, decoded)
	}
	if decoded.Header.Source != parcel.Header.Source || *decoded.Header.Destination != *parcel.Header.Destination {
		t.Fatalf("identifier round trip mismatch")
	}

	awaitable, ok := decoded.Awaitable()
	if !ok || awaitable.Binding != BindingRequest || awaitable.Key != key {
		t.Fatalf("expected awaitable extension to round trip, got %+v ok=%v", awaitable, ok)
	}
	if decoded.Status() != StatusOk {
		t.Fatalf("expected status extension to round trip, got %v", decoded.Status())
	}
}

func TestApplicationParcelDefaultStatusIsOk(t *testing.T) {
	parcel := ApplicationParcel{Header: Header{Source: sampleSource()}}
	if parcel.Status() != StatusOk {
		t.Fatalf("expected default status ok, got %v", parcel.Status())
	}
}

func TestPlatformParcelRoundTrip(t *testing.T) {
	parcel := PlatformParcel{
		Header:  Header{Version: [2]byte{1, 0}, Source: sampleSource()},
		Type:    PlatformHandshake,
		Payload: []byte("stage-1"),
	}

	frame, err := EncodePlatform(parcel, []byte{0xDE, 0xAD})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame.ProtocolID != byte(ProtocolPlatform) {
		t.Fatalf("expected platform protocol id")
	}

	decoded, err := DecodePlatform(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != PlatformHandshake || !bytes.Equal(decoded.Payload, parcel.Payload) {
		t.Fatalf("round trip mismatch: %+v vs %+v", parcel, decoded)
	}
}

func TestDecodePlatformRejectsEmptyPayload(t *testing.T) {
	frame, _ := EncodePlatform(PlatformParcel{Header: Header{Source: sampleSource()}}, nil)
	frame.Payload = nil
	if _, err := DecodePlatform(frame); err == nil {
		t.Fatalf("expected error for missing type byte")
	}
}

func TestEchoSinkRecordsDeliveries(t *testing.T) {
	sink := &EchoSink{}
	ctx := Context{EndpointID: 7}
	if ok := sink.CollectMessage(ctx, []byte("payload")); !ok {
		t.Fatalf("expected echo sink to accept delivery")
	}
	if len(sink.Received) != 1 || sink.Received[0].Context.EndpointID != 7 {
		t.Fatalf("expected delivery recorded, got %+v", sink.Received)
	}
}
