package eventbus

import "testing"

func TestSubscribeAndDispatchInPublishOrder(t *testing.T) {
	bus := New()
	var got []WithdrawalCause
	if _, err := bus.Subscribe(TypePeerDisconnected, func(e Event) {
		got = append(got, e.(PeerDisconnected).Cause)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(PeerDisconnected{Cause: SessionClosure})
	bus.Publish(PeerDisconnected{Cause: DisconnectRequest})

	if n := bus.Dispatch(); n != 2 {
		t.Fatalf("expected 2 events dispatched, got %d", n)
	}
	if len(got) != 2 || got[0] != SessionClosure || got[1] != DisconnectRequest {
		t.Fatalf("unexpected dispatch order: %v", got)
	}
}

func TestListenerCountAndUnsubscribe(t *testing.T) {
	bus := New()
	id, err := bus.Subscribe(TypeBindingFailed, func(Event) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n := bus.ListenerCount(TypeBindingFailed); n != 1 {
		t.Fatalf("expected 1 listener, got %d", n)
	}

	bus.Unsubscribe(TypeBindingFailed, id)
	if n := bus.ListenerCount(TypeBindingFailed); n != 0 {
		t.Fatalf("expected 0 listeners after unsubscribe, got %d", n)
	}
}

func TestSuspendSubscriptionsRejectsNewSubscribers(t *testing.T) {
	bus := New()
	bus.SuspendSubscriptions()
	if _, err := bus.Subscribe(TypeRuntimeStarted, func(Event) {}); err != ErrSubscriptionsSuspended {
		t.Fatalf("expected ErrSubscriptionsSuspended, got %v", err)
	}
}

func TestDispatchOnlyNotifiesMatchingType(t *testing.T) {
	bus := New()
	var bindingFired, connectionFired bool
	bus.Subscribe(TypeBindingFailed, func(Event) { bindingFired = true })
	bus.Subscribe(TypeConnectionFailed, func(Event) { connectionFired = true })

	bus.Publish(BindingFailed{Cause: BindingAddressInUse})
	bus.Dispatch()

	if !bindingFired {
		t.Fatalf("expected BindingFailed subscriber to fire")
	}
	if connectionFired {
		t.Fatalf("expected ConnectionFailed subscriber not to fire")
	}
}

func TestAdvertisedTypesCoversAllNineSchemas(t *testing.T) {
	if n := len(AdvertisedTypes()); n != 9 {
		t.Fatalf("expected 9 advertised event types, got %d", n)
	}
}

func TestPendingReflectsUndispatchedQueue(t *testing.T) {
	bus := New()
	bus.Publish(RuntimeStarted{})
	bus.Publish(RuntimeStarted{})
	if n := bus.Pending(); n != 2 {
		t.Fatalf("expected 2 pending events, got %d", n)
	}
	bus.Dispatch()
	if n := bus.Pending(); n != 0 {
		t.Fatalf("expected 0 pending events after dispatch, got %d", n)
	}
}
