package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/flagsink/flagsink/internal/round"
	"github.com/flagsink/flagsink/internal/roster"
	"github.com/flagsink/flagsink/internal/state"
	"github.com/flagsink/flagsink/internal/stats"
)

// Server wraps the HTTP server and mux for the status API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates an API server wired with all routes. An empty adminToken
// leaves the /api/ routes unauthenticated (single-operator deployments).
func NewServer(
	port int,
	adminToken string,
	repo *state.CaptureRepo,
	collector *stats.Collector,
	rounds round.Source,
	ros *roster.Roster,
) *Server {
	return NewServerWithAddress("", port, adminToken, repo, collector, rounds, ros)
}

// NewServerWithAddress creates an API server with an explicit listen address.
func NewServerWithAddress(
	listenAddress string,
	port int,
	adminToken string,
	repo *state.CaptureRepo,
	collector *stats.Collector,
	rounds round.Source,
	ros *roster.Roster,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())

	authed := http.NewServeMux()
	authed.Handle("GET /api/v1/stats", HandleStats(collector))
	authed.Handle("GET /api/v1/round", HandleRound(rounds))
	authed.Handle("GET /api/v1/roster", HandleRoster(ros))
	authed.Handle("GET /api/v1/captures", HandleListCaptures(repo))
	authed.Handle("GET /api/v1/captures/count", HandleCaptureCount(repo))
	authed.Handle("GET /api/v1/captures/first-blood", HandleFirstBlood(repo))

	if adminToken != "" {
		mux.Handle("/api/", AuthMiddleware(adminToken, authed))
	} else {
		mux.Handle("/api/", authed)
	}

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
