// Package server exposes a small HTTP API for operating the bot: liveness,
// runtime status and a read-only view of the position ledger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// LedgerSource provides the current ledger state for the /api/ledger endpoint.
type LedgerSource interface {
	Export() domain.LedgerCheckpoint
}

// Stats describes the running bot for the /api/status endpoint.
type Stats struct {
	Mode      string
	Strategy  string
	Watched   int
	StartedAt time.Time
}

// Server is the operator-facing HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered.
func NewServer(port int, stats Stats, ledger LedgerSource, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/status", handleStatus(stats))
	mux.HandleFunc("GET /api/ledger", handleLedger(ledger))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      logging(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
