// Package node wires the runtime's components into one process: the peer
// manager, one TCP endpoint, the conflict mediator, the task scheduler,
// the event bus, and the diagnostics surface. Grounded on the teacher's
// cmd/cli/network.go netInit/netStart/netStop trio (core.NewNode +
// goroutine-driven ListenAndServe + signal-triggered Close), generalized
// from one libp2p core.Node to this runtime's TCP endpoint + peer manager
// pair.
package node

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brypt-mesh/node/internal/address"
	"github.com/brypt-mesh/node/internal/awaitable"
	"github.com/brypt-mesh/node/internal/endpoint"
	"github.com/brypt-mesh/node/internal/eventbus"
	"github.com/brypt-mesh/node/internal/exchange"
	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/peer"
	"github.com/brypt-mesh/node/internal/scheduler"
	"github.com/brypt-mesh/node/pkg/config"
)

// noopConnect satisfies peer.ConnectProtocol. Application-level routes
// fired after a successful handshake are out of scope for this runtime
// (this module stops at the transport/handshake/tracking layer); a real
// deployment would replace this with its own post-handshake request.
type noopConnect struct{}

func (noopConnect) SendRequest(*peer.Proxy) error { return nil }

// Node owns every long-lived component of one mesh process.
type Node struct {
	cfg config.Config

	bus       *eventbus.Bus
	manager   *peer.Manager
	tracking  *awaitable.Service
	mediator  *endpoint.Mediator
	registrar *scheduler.Registrar
	tasks     *scheduler.TaskService
	ep        *endpoint.Endpoint

	diagnostics DiagnosticsServer

	logger *logrus.Entry
}

// DiagnosticsServer is the subset of *diagnostics.Server a Node drives;
// declared here so this package doesn't need to import internal/diagnostics
// (and the chi router it pulls in) just to hold a reference to one.
type DiagnosticsServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Identity is this node's long-term signing key pair, from which its
// identifier is derived (identifier.FromPublicKey).
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// PeerTrust resolves the Ed25519 verify key this node expects of its
// peers, for the post-quantum synchronizer's signature check. The
// endpoint's SynchronizerFactory is role-scoped only (one synchronizer
// kind for the whole endpoint, not one per remote), so this runtime
// supports exactly the deployment spec.md's Non-goals leave room for: a
// closed mesh where every member shares one pre-distributed verify key,
// not a per-peer bootstrap PKI (peer-list persistence is explicitly out
// of scope).
type PeerTrust func() ed25519.PublicKey

// New builds a Node bound to cfg's network/handshake/tracking settings.
// diagnosticsFactory is used to build the optional status server, kept as
// a parameter so this package doesn't import internal/diagnostics
// directly when it's disabled.
func New(cfg config.Config, identity Identity, trust PeerTrust, diagnosticsFactory func(*peer.Manager, *awaitable.Service) DiagnosticsServer, logger *logrus.Logger) (*Node, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	local := identifier.FromPublicKey(identity.Public)

	binding, err := address.NewBindingAddress(address.TCP, cfg.Network.ListenAddr, "")
	if err != nil {
		return nil, fmt.Errorf("node: invalid listen address %q: %w", cfg.Network.ListenAddr, err)
	}

	bus := eventbus.New()
	tracking := awaitable.NewService(local, nil)
	manager := peer.NewManager(local, tracking)
	mediator := endpoint.NewMediator()
	registrar := scheduler.NewRegistrar()

	synthesize := func(role exchange.Role) exchange.Synchronizer {
		return exchange.NewPostQuantumSynchronizer(role, identity.Private, trust())
	}

	epConfig := endpoint.Config{
		ConnectTimeout: time.Duration(cfg.Handshake.ConnectTimeoutMS) * time.Millisecond,
		RetryInterval:  time.Duration(cfg.Handshake.RetryIntervalMS) * time.Millisecond,
		RetryLimit:     cfg.Handshake.RetryLimit,
	}
	ep := endpoint.New(binding, manager, mediator, bus, synthesize, noopConnect{}, epConfig, logger)

	n := &Node{
		cfg:       cfg,
		bus:       bus,
		manager:   manager,
		tracking:  tracking,
		mediator:  mediator,
		registrar: registrar,
		ep:        ep,
		logger:    logger.WithField("component", "node"),
	}

	sweepInterval := time.Duration(cfg.Tracking.SweepMS) * time.Millisecond
	if sweepInterval <= 0 {
		sweepInterval = 250 * time.Millisecond
	}
	if err := registrar.Register(scheduler.Delegate{
		Name:     "tracking-sweep",
		Priority: 10,
		Execute: func(context.Context) error {
			tracking.Execute()
			return nil
		},
	}); err != nil {
		return nil, err
	}
	if err := registrar.Register(scheduler.Delegate{
		Name:      "event-dispatch",
		Priority:  5,
		DependsOn: []string{"tracking-sweep"},
		Execute: func(context.Context) error {
			bus.Dispatch()
			return nil
		},
	}); err != nil {
		return nil, err
	}
	n.tasks = scheduler.NewTaskService(registrar, sweepInterval, logger)

	if cfg.Diagnostics.Enabled && diagnosticsFactory != nil {
		n.diagnostics = diagnosticsFactory(manager, tracking)
	}

	return n, nil
}

// Startup binds the endpoint's listener, starts the scheduler's cycle,
// and (if configured) the diagnostics server, then dials every configured
// bootstrap peer.
func (n *Node) Startup(ctx context.Context) error {
	if err := n.ep.Startup(); err != nil {
		return err
	}

	go func() {
		if err := n.tasks.Run(ctx); err != nil && ctx.Err() == nil {
			n.logger.WithError(err).Warn("task service stopped unexpectedly")
		}
	}()

	if n.diagnostics != nil {
		go func() {
			if err := n.diagnostics.Start(); err != nil {
				n.logger.WithError(err).Warn("diagnostics server stopped unexpectedly")
			}
		}()
	}

	for _, raw := range n.cfg.Network.BootstrapPeers {
		remote, err := address.NewRemoteAddress(address.TCP, raw, true, address.OriginUser)
		if err != nil {
			n.logger.WithError(err).WithField("peer", raw).Warn("skipping malformed bootstrap peer")
			continue
		}
		n.ep.ScheduleConnect(remote, nil)
	}

	n.logger.Info("node started")
	return nil
}

// Shutdown stops the endpoint, releasing every session, and (if running)
// the diagnostics server.
func (n *Node) Shutdown(ctx context.Context) {
	n.ep.Shutdown()
	if n.diagnostics != nil {
		_ = n.diagnostics.Shutdown(ctx)
	}
	n.logger.Info("node stopped")
}

// Bus exposes the event bus for callers that want to subscribe, e.g. a
// logging observer or the diagnostics server.
func (n *Node) Bus() *eventbus.Bus { return n.bus }

// Manager exposes the peer manager, e.g. for a diagnostics server or a
// CLI "peers" command.
func (n *Node) Manager() *peer.Manager { return n.manager }

// Tracking exposes the awaitable tracking service.
func (n *Node) Tracking() *awaitable.Service { return n.tracking }

// DispatchEvents drains the event bus once; callers typically run this
// from their own poll loop or a scheduler delegate.
func (n *Node) DispatchEvents() int { return n.bus.Dispatch() }
