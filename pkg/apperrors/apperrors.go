// Package apperrors classifies the runtime's error taxonomy (spec.md §7):
// errors are grouped by Kind, not by Go type, so a binding failure and a
// handshake failure can share one reporting/logging path while still being
// told apart at the call site. Generalized from the teacher's
// pkg/utils.Wrap, which only adds message context with no classification.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind names one of the error sources spec.md §7's taxonomy table lists.
type Kind string

const (
	BindingFailure     Kind = "binding_failure"
	ConnectionFailure  Kind = "connection_failure"
	SessionStopCause   Kind = "session_stop_cause"
	HandshakeFailure   Kind = "handshake_failure"
	TrackerExpiration  Kind = "tracker_expiration"
	MalformedMessage   Kind = "malformed_message"
	UnexpectedReceiver Kind = "unexpected_receiver"
)

// Classified wraps an underlying error with the Kind that produced it,
// letting a caller recover the classification with errors.As while the
// message chain still renders through Error()/Unwrap().
type Classified struct {
	Kind Kind
	Op   string
	Err  error
}

func (c *Classified) Error() string {
	if c.Op == "" {
		return fmt.Sprintf("%s: %v", c.Kind, c.Err)
	}
	return fmt.Sprintf("%s: %s: %v", c.Kind, c.Op, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// Wrap attaches kind and an operation label to err. Returns nil if err is
// nil, matching the teacher's Wrap.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of err, if it (or something it wraps) is a
// *Classified.
func KindOf(err error) (Kind, bool) {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind, true
	}
	return "", false
}
