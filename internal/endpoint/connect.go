package endpoint

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/eventbus"
	"github.com/brypt-mesh/node/internal/exchange"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/peer"
)

// runConnectDelegate drives one outbound connect attempt end to end, per
// spec.md §4.2's connect delegate: conflict check, declare the resolving
// peer, dial with retry, then hand the connected socket to a session. It
// runs on its own goroutine, spawned by Endpoint.ScheduleConnect.
func (e *Endpoint) runConnectDelegate(remote address.RemoteAddress, id *identifier.ID) {
	if e.mediator.IsReflective(remote) {
		e.publishConnectionFailed(remote, eventbus.ConnectionReflective)
		return
	}
	if e.tracker.isTracked(remote.URI()) {
		e.publishConnectionFailed(remote, eventbus.ConnectionDuplicate)
		return
	}

	synchronizer := e.newSynchronizer(exchange.RoleInitiator)
	parcel, started, err := e.manager.DeclareResolvingPeer(remote, id, synchronizer, e.connectProtocol())
	if err != nil {
		cause := eventbus.ConnectionUnexpectedError
		if errors.Is(err, peer.ErrProxyExists) {
			cause = eventbus.ConnectionDuplicate
		}
		e.publishConnectionFailed(remote, cause)
		return
	}
	if !started {
		e.publishConnectionFailed(remote, eventbus.ConnectionInProgress)
		return
	}

	conn, dialErr := e.dialWithRetry(remote)
	if dialErr != nil {
		e.manager.RescindResolvingPeer(remote)
		e.publishConnectionFailed(remote, classifyConnectError(dialErr))
		return
	}

	proxy, ok := e.manager.LookupResolving(remote)
	if !ok {
		// The resolving entry was claimed by another path (e.g. a
		// concurrent inbound connection from the same peer) while this
		// dial was in flight. Nothing left to attach the socket to.
		_ = conn.Close()
		return
	}
	// The socket is now bound to this specific proxy; once Bind runs
	// (inside attachSession) the manager re-indexes it by identifier, so
	// the address-keyed resolving entry is no longer needed.
	e.manager.RescindResolvingPeer(remote)

	e.attachSession(conn, remote, proxy, parcel)
}

// dialWithRetry attempts to connect to remote, retrying retryable failures
// up to e.config.RetryLimit times with RetryInterval between attempts, per
// spec.md §4.2 step (d). Grounded on the teacher's core/network.go Dialer:
// a bare net.Dialer with Timeout/KeepAlive, driven through DialContext.
func (e *Endpoint) dialWithRetry(remote address.RemoteAddress) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: e.config.ConnectTimeout, KeepAlive: e.config.ConnectTimeout}

	var lastErr error
	for attempt := 0; attempt <= e.config.RetryLimit; attempt++ {
		ctx, cancel := context.WithTimeout(e.shutdownCtx, e.config.ConnectTimeout)
		conn, err := dialer.DialContext(ctx, "tcp", remote.Authority())
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if !isRetryableConnectFailure(classifyConnectError(err)) {
			return nil, err
		}
		if attempt == e.config.RetryLimit {
			break
		}

		select {
		case <-time.After(e.config.RetryInterval):
		case <-e.shutdownCtx.Done():
			return nil, e.shutdownCtx.Err()
		}
	}
	return nil, lastErr
}
