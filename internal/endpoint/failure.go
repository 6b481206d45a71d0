package endpoint

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/brypt-mesh/node/internal/eventbus"
	"github.com/brypt-mesh/node/internal/session"
)

// classifyBindingError maps a listener bind/accept error onto spec.md
// §4.2's binding-failure vocabulary, mirroring the original
// Agent::Listener::GetFailure switch.
func classifyBindingError(err error) eventbus.BindingFailureCause {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return eventbus.BindingCanceled
	}
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return eventbus.BindingAddressInUse
	case errors.Is(err, syscall.ENETDOWN):
		return eventbus.BindingOffline
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return eventbus.BindingUnreachable
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return eventbus.BindingPermissions
	default:
		return eventbus.BindingUnexpectedError
	}
}

// classifyConnectError maps an outbound dial error onto spec.md §4.2's
// connection-failure vocabulary, mirroring Delegate::GetCompletionOrigin.
// Only the genuinely retryable causes (Offline, Unreachable, and the
// default UnexpectedError) should drive the connect delegate's retry loop;
// the rest are terminal.
func classifyConnectError(err error) eventbus.ConnectionFailureCause {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return eventbus.ConnectionCanceled
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return eventbus.ConnectionRefused
	case errors.Is(err, syscall.ENETDOWN):
		return eventbus.ConnectionOffline
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return eventbus.ConnectionUnreachable
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return eventbus.ConnectionPermissions
	case errors.Is(err, context.DeadlineExceeded):
		return eventbus.ConnectionUnreachable
	default:
		return eventbus.ConnectionUnexpectedError
	}
}

// isRetryableConnectFailure reports whether cause should trigger another
// connect attempt rather than surfacing immediately, per spec.md §4.2's
// "retryable failure" language.
func isRetryableConnectFailure(cause eventbus.ConnectionFailureCause) bool {
	switch cause {
	case eventbus.ConnectionOffline, eventbus.ConnectionUnreachable, eventbus.ConnectionUnexpectedError:
		return true
	default:
		return false
	}
}

// classifyWithdrawal maps a session's internal stop cause onto the wider
// withdrawal-cause vocabulary a proxy's WithdrawEndpoint observes, per
// spec.md §4.3. shuttingDown overrides the mapping with NetworkShutdown,
// since that cause has no session-local trigger: it's only produced when
// the owning endpoint itself is tearing down every session at once.
func classifyWithdrawal(cause session.StopCause, shuttingDown bool) eventbus.WithdrawalCause {
	if shuttingDown {
		return eventbus.NetworkShutdown
	}
	switch cause {
	case session.StopRequested:
		return eventbus.DisconnectRequest
	case session.StopClosed:
		return eventbus.SessionClosure
	default:
		return eventbus.UnexpectedError
	}
}
