// Package diagnostics exposes a small read-only HTTP status surface over
// the node's peer table and tracking service, adapted from the teacher's
// cmd/explorer block-explorer JSON API (routes/JSON-encode helper pattern)
// to a peer/tracker status API, routed with go-chi rather than the
// teacher's gorilla/mux since chi is the router the rest of this pack
// exercises.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/brypt-mesh/node/internal/identifier"
	"github.com/brypt-mesh/node/internal/peer"
)

// TrackerCounter reports how many awaitable requests/deferrals are
// currently pending, satisfied by *awaitable.Service.
type TrackerCounter interface {
	Count() int
}

// Server serves read-only JSON views of peer and tracker state. It never
// mutates the manager or tracker it's given.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	manager    *peer.Manager
	trackers   TrackerCounter
	logger     *logrus.Entry
}

// NewServer builds a diagnostics server bound to addr, reading from
// manager and trackers. trackers may be nil if no tracking service is
// wired yet.
func NewServer(addr string, manager *peer.Manager, trackers TrackerCounter, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:   chi.NewRouter(),
		manager:  manager,
		trackers: trackers,
		logger:   logger.WithField("component", "diagnostics"),
	}
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequest)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/peers", s.handlePeers)
	s.router.Get("/trackers", s.handleTrackers)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithField("path", r.URL.Path).WithField("elapsed", time.Since(start)).Debug("handled request")
	})
}

// Start runs the HTTP server, blocking until it exits. Callers typically
// run this in its own goroutine.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("diagnostics server starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type peerSummary struct {
	Identifier    string `json:"identifier"`
	Authorized    bool   `json:"authorized"`
	EndpointCount int    `json:"endpoint_count"`
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	proxies := s.manager.Snapshot(peer.Active)
	out := make([]peerSummary, 0, len(proxies))
	for _, p := range proxies {
		out = append(out, peerSummary{
			Identifier:    identifierString(p.Identifier()),
			Authorized:    p.IsAuthorized(),
			EndpointCount: p.EndpointCount(),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleTrackers(w http.ResponseWriter, _ *http.Request) {
	count := 0
	if s.trackers != nil {
		count = s.trackers.Count()
	}
	writeJSON(w, map[string]int{"pending": count})
}

func identifierString(id identifier.ID) string {
	return id.String()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
