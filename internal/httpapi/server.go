// Package httpapi exposes the escrow coordinator's REST surface: session-
// authenticated party endpoints for multisig setup and release/refund/
// dispute flows, and a bearer-token-authenticated admin surface for
// maintenance and live health/event observation.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/satisfyguy/escrowd/internal/challenge"
	"github.com/satisfyguy/escrowd/internal/coordinator"
	"github.com/satisfyguy/escrowd/internal/locks"
	"github.com/satisfyguy/escrowd/internal/orchestrator"
	"github.com/satisfyguy/escrowd/internal/session"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/pkg/logging"
)

// Config configures the HTTP server.
type Config struct {
	AdminToken string
}

// Server serves the escrow coordinator's HTTP API.
type Server struct {
	escrows      *store.Store
	coordinator  *coordinator.Coordinator
	orchestrator *orchestrator.Orchestrator
	challenges   *challenge.Store
	sessions     *session.Manager
	locks        *locks.Registry
	adminToken   string
	log          *logging.Logger
	wsHub        *WSHub

	server   *http.Server
	listener net.Listener
}

// New creates a Server. Callers wire its event feed to the WebSocket hub
// by calling PublishEvent from coordinator/orchestrator/recovery event
// handlers registered elsewhere during startup.
func New(
	cfg Config,
	escrows *store.Store,
	coord *coordinator.Coordinator,
	orch *orchestrator.Orchestrator,
	challenges *challenge.Store,
	sessions *session.Manager,
	lockRegistry *locks.Registry,
) *Server {
	return &Server{
		escrows:      escrows,
		coordinator:  coord,
		orchestrator: orch,
		challenges:   challenges,
		sessions:     sessions,
		locks:        lockRegistry,
		adminToken:   cfg.AdminToken,
		log:          logging.GetDefault().Component("httpapi"),
		wsHub:        NewWSHub(),
	}
}

// PublishEvent broadcasts an event to every connected admin WebSocket
// client subscribed to it (or subscribed to nothing, which means all).
func (s *Server) PublishEvent(eventType string, data any) {
	s.wsHub.Broadcast(EventType(eventType), data)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/escrow/{id}/multisig/challenge", s.withUserAuth(s.handleChallenge))
	mux.HandleFunc("POST /api/escrow/{id}/multisig/prepare", s.withUserAuth(s.handlePrepare))
	mux.HandleFunc("POST /api/escrow/{id}/advance", s.withUserAuth(s.handleAdvance))
	mux.HandleFunc("POST /api/escrow/{id}/release", s.withUserAuth(s.handleRelease))
	mux.HandleFunc("POST /api/escrow/{id}/refund", s.withUserAuth(s.handleRefund))
	mux.HandleFunc("POST /api/escrow/{id}/dispute", s.withUserAuth(s.handleDispute))
	mux.HandleFunc("POST /api/escrow/{id}/resolve", s.withUserAuth(s.handleResolve))
	mux.HandleFunc("GET /api/escrow/{id}", s.withUserAuth(s.handleGetEscrow))

	mux.HandleFunc("POST /admin/escrows", s.withAdminAuth(s.handleCreateEscrow))
	mux.HandleFunc("POST /admin/escrows/{id}/assign-arbiter", s.withAdminAuth(s.handleAssignArbiter))
	mux.HandleFunc("POST /api/maintenance/cleanup-challenges", s.withAdminAuth(s.handleCleanupChallenges))
	mux.HandleFunc("GET /admin/escrows/health", s.withAdminAuth(s.handleHealth))
	mux.HandleFunc("GET /admin/escrows/stream", s.withAdminAuth(s.handleStream))

	return mux
}

// Start launches the server on addr in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go s.wsHub.Run()

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("http api started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
