// Package session implements the per-connection TCP session described in
// spec.md §4.3: a receiver and a dispatcher task sharing one socket and an
// outbound queue.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/message"
	"github.com/brypt-mesh/node/internal/wire"
)

// StopCause classifies why a session stopped, per spec.md §4.3.
type StopCause int

const (
	StopRequested StopCause = iota
	StopClosed
	StopUnexpectedError
)

func (c StopCause) String() string {
	switch c {
	case StopRequested:
		return "requested"
	case StopClosed:
		return "closed"
	default:
		return "unexpected-error"
	}
}

// ReceiveCallback is invoked for every fully-decoded inbound message. It
// returns false to signal the message was rejected and the session should
// stop.
type ReceiveCallback func(s *Session, source identifier.ID, buffer []byte) bool

// DispatchedCallback is invoked after a queued message is written to the
// socket.
type DispatchedCallback func(s *Session)

// StopCallback is invoked once, when the session transitions to inactive.
type StopCallback func(s *Session, cause StopCause)

// headerZ85Length is the constant Z85-text length of the peekable wire
// header: HeaderSize raw bytes, 4 bytes encoding to 5 Z85 characters.
const headerZ85Length = wire.HeaderSize / 4 * 5

// Session owns one TCP connection's receiver and dispatcher tasks. It has
// no knowledge of peers or endpoints; callers wire it to the rest of the
// runtime through OnReceived/OnStopped.
type Session struct {
	logger  *logrus.Entry
	conn    net.Conn
	address address.RemoteAddress

	active atomic.Bool

	outMu    sync.Mutex
	outbound [][]byte
	signal   *ExclusiveSignal

	onReceived   ReceiveCallback
	onDispatched DispatchedCallback
	onStopped    StopCallback

	stopOnce       sync.Once
	stopCauseValue atomic.Int32
}

// New builds a session around an already-connected socket. addr is the
// already-resolved remote address (origin/bootstrapable already decided by
// the caller, per spec.md §4.1's Address value type).
func New(conn net.Conn, addr address.RemoteAddress, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		conn:    conn,
		address: addr,
		signal:  NewExclusiveSignal(),
		logger:  logger.WithField("remote", addr.URI()),
	}
}

// IsActive reports whether the session's tasks are still running.
func (s *Session) IsActive() bool { return s.active.Load() }

// Address returns the peer's remote address.
func (s *Session) Address() address.RemoteAddress { return s.address }

// StopCause returns the classified reason the session stopped, valid once
// IsActive reports false.
func (s *Session) StopCause() StopCause { return StopCause(s.stopCauseValue.Load()) }

// OnReceived installs the inbound message callback. Must be set before
// Start.
func (s *Session) OnReceived(cb ReceiveCallback) { s.onReceived = cb }

// OnDispatched installs the post-write callback. Must be set before Start.
func (s *Session) OnDispatched(cb DispatchedCallback) { s.onDispatched = cb }

// OnStopped installs the stop callback. Must be set before Start.
func (s *Session) OnStopped(cb StopCallback) { s.onStopped = cb }

// Start spawns the receiver and dispatcher goroutines.
func (s *Session) Start() {
	s.active.Store(true)
	s.logger.Info("session started")
	go s.receiveLoop()
	go s.dispatchLoop()
}

// Stop closes the socket and marks the session inactive with cause
// StopRequested, the classification for a deliberate, caller-initiated
// shutdown (as opposed to a socket error or peer disconnect).
func (s *Session) Stop() { s.stop(StopRequested) }

// ScheduleSend queues payload for the dispatcher and wakes it. Fire and
// forget: if the session is not active, the send is silently dropped, per
// spec.md §4.2.
func (s *Session) ScheduleSend(payload []byte) bool {
	if !s.active.Load() {
		return false
	}
	s.outMu.Lock()
	s.outbound = append(s.outbound, payload)
	s.outMu.Unlock()
	s.signal.NotifyNext()
	return true
}

func (s *Session) receiveLoop() {
	header := make([]byte, headerZ85Length)
	for s.active.Load() {
		if _, err := io.ReadFull(s.conn, header); err != nil {
			s.stop(classifyReceiveError(err))
			return
		}

		decodedHeader, err := wire.DecodeHeader(string(header))
		if err != nil {
			s.logger.WithError(err).Warn("malformed peekable header")
			s.stop(StopUnexpectedError)
			return
		}

		bodyZ85Len := int(decodedHeader.BodyPaddedSize) / 4 * 5
		body := make([]byte, bodyZ85Len)
		if _, err := io.ReadFull(s.conn, body); err != nil {
			s.stop(classifyReceiveError(err))
			return
		}

		buffer := make([]byte, 0, len(header)+len(body))
		buffer = append(buffer, header...)
		buffer = append(buffer, body...)

		source, err := message.PeekSource(buffer)
		if err != nil {
			s.logger.WithError(err).Warn("message was unable to be parsed")
			s.stop(StopUnexpectedError)
			return
		}

		if s.onReceived != nil && !s.onReceived(s, source, buffer) {
			// The installed sink rejected the message; treat it the same
			// as a peer-induced closure rather than a local disconnect.
			s.stop(StopClosed)
			return
		}
	}
}

func (s *Session) dispatchLoop() {
	ctx := context.Background()
	for s.active.Load() {
		s.outMu.Lock()
		if len(s.outbound) == 0 {
			s.outMu.Unlock()
			if _, err := s.signal.Wait(ctx); err != nil {
				return
			}
			continue
		}
		front := s.outbound[0]
		s.outbound = s.outbound[1:]
		s.outMu.Unlock()

		if _, err := s.conn.Write(front); err != nil {
			s.stop(classifyDispatchError(err))
			return
		}

		s.logger.WithField("bytes", len(front)).Debug("dispatched message")
		if s.onDispatched != nil {
			s.onDispatched(s)
		}
	}
}

func (s *Session) stop(cause StopCause) {
	s.stopOnce.Do(func() {
		s.active.Store(false)
		_ = s.conn.Close()
		s.signal.Cancel()
		s.stopCauseValue.Store(int32(cause))
		s.logger.WithField("cause", cause).Info("session stopped")
		if s.onStopped != nil {
			s.onStopped(s, cause)
		}
	})
}

func classifyReceiveError(err error) StopCause {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return StopClosed
	}
	if errors.Is(err, net.ErrClosed) {
		return StopRequested
	}
	return StopUnexpectedError
}

func classifyDispatchError(err error) StopCause {
	if errors.Is(err, net.ErrClosed) {
		return StopRequested
	}
	return StopUnexpectedError
}
