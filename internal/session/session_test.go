package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/wire"
)

func testRemoteAddress(t *testing.T) address.RemoteAddress {
	t.Helper()
	addr, err := address.NewRemoteAddress(address.TCP, "tcp://127.0.0.1:9800", true, address.OriginUser)
	if err != nil {
		t.Fatalf("parse remote address: %v", err)
	}
	return addr
}

func framedMessage(t *testing.T, source identifier.ID, payload []byte) []byte {
	t.Helper()
	frame := wire.Frame{
		Version:    [2]byte{1, 0},
		ProtocolID: 1,
		Source:     source[:],
		Payload:    payload,
	}
	headerZ85, err := wire.EncodeHeader(frame)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	bodyZ85, err := wire.EncodeBody(frame)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return append([]byte(headerZ85), []byte(bodyZ85)...)
}

type pair struct {
	a, b *Session
}

func newPair(t *testing.T) pair {
	t.Helper()
	connA, connB := net.Pipe()
	addr := testRemoteAddress(t)
	return pair{a: New(connA, addr, nil), b: New(connB, addr, nil)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestSessionDeliversReceivedMessage(t *testing.T) {
	p := newPair(t)
	source := identifier.ID{}
	source[0] = 7

	var mu sync.Mutex
	var delivered []byte
	p.b.OnReceived(func(_ *Session, gotSource identifier.ID, buffer []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		if gotSource != source {
			t.Errorf("expected source %v, got %v", source, gotSource)
		}
		delivered = append([]byte(nil), buffer...)
		return true
	})

	p.a.Start()
	p.b.Start()
	defer p.a.Stop()
	defer p.b.Stop()

	msg := framedMessage(t, source, []byte("hello"))
	if !p.a.ScheduleSend(msg) {
		t.Fatalf("expected schedule send to succeed")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) > 0
	})
}

func TestScheduleSendDroppedWhenInactive(t *testing.T) {
	p := newPair(t)
	p.a.Stop()
	if p.a.ScheduleSend([]byte("x")) {
		t.Fatalf("expected send to be dropped on an inactive session")
	}
}

func TestStopInvokesCallbackWithRequestedCause(t *testing.T) {
	p := newPair(t)
	done := make(chan StopCause, 1)
	p.a.OnStopped(func(_ *Session, cause StopCause) { done <- cause })
	p.a.Start()
	p.b.Start()
	defer p.b.Stop()

	p.a.Stop()
	select {
	case cause := <-done:
		if cause != StopRequested {
			t.Fatalf("expected StopRequested, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stop callback")
	}
	if p.a.IsActive() {
		t.Fatalf("expected session inactive after Stop")
	}
}

func TestPeerClosureClassifiedAsClosed(t *testing.T) {
	p := newPair(t)
	done := make(chan StopCause, 1)
	p.a.OnStopped(func(_ *Session, cause StopCause) { done <- cause })
	p.a.Start()

	p.b.conn.Close() // simulate the remote end disappearing without a clean shutdown

	select {
	case cause := <-done:
		if cause != StopClosed {
			t.Fatalf("expected StopClosed, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stop callback")
	}
}

func TestReceiveCallbackRejectionStopsSession(t *testing.T) {
	p := newPair(t)
	p.b.OnReceived(func(*Session, identifier.ID, []byte) bool { return false })

	done := make(chan StopCause, 1)
	p.b.OnStopped(func(_ *Session, cause StopCause) { done <- cause })

	p.a.Start()
	p.b.Start()
	defer p.a.Stop()

	p.a.ScheduleSend(framedMessage(t, identifier.ID{}, []byte("rejected")))

	select {
	case cause := <-done:
		if cause != StopClosed {
			t.Fatalf("expected StopClosed, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stop callback")
	}
}

func TestExclusiveSignalNotifyRequiresWaiter(t *testing.T) {
	s := NewExclusiveSignal()
	s.Notify() // no waiter: no-op, must not panic or deadlock

	resultCh := make(chan WakeResult, 1)
	go func() {
		result, err := s.Wait(context.Background())
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		resultCh <- result
	}()

	time.Sleep(10 * time.Millisecond) // let the goroutine reach Wait
	s.Notify()

	select {
	case result := <-resultCh:
		if result != WakeSignaled {
			t.Fatalf("expected WakeSignaled, got %v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for signal")
	}
}

func TestExclusiveSignalNotifyNextPreArms(t *testing.T) {
	s := NewExclusiveSignal()
	s.NotifyNext() // nobody waiting yet; should pre-arm

	result, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != WakeSignaled {
		t.Fatalf("expected WakeSignaled, got %v", result)
	}
}

func TestExclusiveSignalCancelPreArms(t *testing.T) {
	s := NewExclusiveSignal()
	s.Cancel()

	result, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != WakeCanceled {
		t.Fatalf("expected WakeCanceled, got %v", result)
	}
}

func TestExclusiveSignalRejectsSecondWaiter(t *testing.T) {
	s := NewExclusiveSignal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Wait(ctx)
	time.Sleep(10 * time.Millisecond)

	_, err := s.Wait(context.Background())
	if err != ErrAlreadyWaiting {
		t.Fatalf("expected ErrAlreadyWaiting, got %v", err)
	}
}
