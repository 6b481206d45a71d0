package awaitable

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
)

func idWithFirstByte(b byte) identifier.ID {
	var id identifier.ID
	id[0] = b
	return id
}

func responseParcel(key Key, source identifier.ID) message.ApplicationParcel {
	return message.ApplicationParcel{
		Header: message.Header{Source: source},
		Extensions: []message.Extension{
			message.Awaitable{Binding: message.BindingResponse, Key: key},
		},
	}
}

// S1: single request/response.
func TestSingleRequestResponse(t *testing.T) {
	mock := clock.NewMock()
	service := NewService(idWithFirstByte(0), mock)

	peer := idWithFirstByte(1)
	var responses []Response
	builder := &message.ApplicationParcel{}
	key := service.StageRequest([]identifier.ID{peer}, func(r Response) { responses = append(responses, r) }, nil, builder)

	if result := service.Process(responseParcel(key, peer)); result != ResultFulfilled {
		t.Fatalf("expected fulfilled, got %v", result)
	}
	if n := service.Execute(); n != 1 {
		t.Fatalf("expected 1 tracker fulfilled, got %d", n)
	}
	if len(responses) != 1 || responses[0].Source != peer {
		t.Fatalf("expected one response dispatched from %v, got %+v", peer, responses)
	}
	if service.Count() != 0 {
		t.Fatalf("expected tracker removed after fulfillment, count=%d", service.Count())
	}
}

// S2: multi-response cluster request.
func TestMultiResponseClusterRequest(t *testing.T) {
	mock := clock.NewMock()
	service := NewService(idWithFirstByte(0), mock)

	peers := []identifier.ID{idWithFirstByte(1), idWithFirstByte(2), idWithFirstByte(3)}
	var order []identifier.ID
	var remaining []int
	builder := &message.ApplicationParcel{}
	key := service.StageRequest(peers, func(r Response) {
		order = append(order, r.Source)
		remaining = append(remaining, r.Remaining)
	}, nil, builder)

	for _, peer := range peers {
		if result := service.Process(responseParcel(key, peer)); result == ResultUnexpected {
			t.Fatalf("unexpected rejection for peer %v", peer)
		}
	}
	if n := service.Execute(); n != 1 {
		t.Fatalf("expected 1 tracker fulfilled, got %d", n)
	}
	if len(order) != len(peers) {
		t.Fatalf("expected all peers to respond, got %v", order)
	}
	for i, peer := range peers {
		if order[i] != peer {
			t.Fatalf("expected responses dispatched in arrival order, got %v", order)
		}
		if want := len(peers) - i - 1; remaining[i] != want {
			t.Fatalf("expected remaining %d at dispatch %d, got %d", want, i, remaining[i])
		}
	}
}

// S3: duplicate response rejection.
func TestDuplicateResponseRejected(t *testing.T) {
	mock := clock.NewMock()
	service := NewService(idWithFirstByte(0), mock)

	peer := idWithFirstByte(1)
	builder := &message.ApplicationParcel{}
	key := service.StageRequest([]identifier.ID{peer}, func(Response) {}, nil, builder)

	if result := service.Process(responseParcel(key, peer)); result != ResultFulfilled {
		t.Fatalf("expected first response fulfilled, got %v", result)
	}
	if result := service.Process(responseParcel(key, peer)); result != ResultUnexpected {
		t.Fatalf("expected duplicate response rejected, got %v", result)
	}
}

// S4: partial expiration.
func TestPartialExpirationFiresTimeoutForUnanswered(t *testing.T) {
	mock := clock.NewMock()
	service := NewService(idWithFirstByte(0), mock)

	i1, i2, i3 := idWithFirstByte(1), idWithFirstByte(2), idWithFirstByte(3)
	var responded, timedOut []identifier.ID
	builder := &message.ApplicationParcel{}
	key := service.StageRequest(
		[]identifier.ID{i1, i2, i3},
		func(r Response) { responded = append(responded, r.Source) },
		func(r Response) { timedOut = append(timedOut, r.Source) },
		builder,
	)

	if result := service.Process(responseParcel(key, i1)); result != ResultPartial {
		t.Fatalf("expected partial, got %v", result)
	}

	mock.Add(ExpirationPeriod + time.Millisecond)

	if n := service.Execute(); n != 1 {
		t.Fatalf("expected 1 tracker fulfilled on expiration sweep, got %d", n)
	}
	if len(responded) != 1 || responded[0] != i1 {
		t.Fatalf("expected i1 to get a real response, got %v", responded)
	}
	if len(timedOut) != 2 {
		t.Fatalf("expected i2 and i3 to time out, got %v", timedOut)
	}
}

func TestProcessRejectsUnknownKey(t *testing.T) {
	service := NewService(idWithFirstByte(0), clock.NewMock())
	if result := service.Process(responseParcel(GenerateKey(), idWithFirstByte(1))); result != ResultUnexpected {
		t.Fatalf("expected unexpected for unknown key, got %v", result)
	}
}

type recordingSink struct{ sent []message.ApplicationParcel }

func (s *recordingSink) SendResponse(parcel message.ApplicationParcel) error {
	s.sent = append(s.sent, parcel)
	return nil
}

func TestStageDeferredAggregatesAndAutoProcessesLocal(t *testing.T) {
	local := idWithFirstByte(0)
	mock := clock.NewMock()
	service := NewService(local, mock)

	peer := idWithFirstByte(1)
	sink := &recordingSink{}
	original := message.ApplicationParcel{Header: message.Header{Source: idWithFirstByte(9)}, Route: "/cluster"}
	notice := &message.ApplicationParcel{}

	key := service.StageDeferred(sink, []identifier.ID{local, peer}, original, notice)

	if result := service.ProcessDirect(key, peer, []byte(`"pong"`)); result != ResultFulfilled {
		t.Fatalf("expected fulfilled after both local and peer respond, got %v", result)
	}
	if n := service.Execute(); n != 1 {
		t.Fatalf("expected 1 tracker fulfilled, got %d", n)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected one aggregate reply sent, got %d", len(sink.sent))
	}
}
