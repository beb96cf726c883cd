// Package api is the administrative HTTP surface over the core: scan
// control, dashboard reads, the analysis review queue, alert
// management, a thin mail-provider proxy and the SSE event streams.
// Authentication, audit logging and inbound rate limiting are external
// collaborators; the router exposes a middleware hook point for them.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/dasher-monitor/internal/config"
)

// Server wraps the HTTP server around the API router.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer builds the server. deps.BaseCtx must be the process-lifetime
// context; background scans and SSE streams are bound to it.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	h := NewHandlers(deps)
	return &Server{
		cfg:     cfg,
		handler: NewRouter(h, deps.AuthMiddleware),
	}
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.GetHost(), s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// WriteTimeout stays unset: SSE streams are long-lived and
		// guarded by their own context cancellation instead.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.handler }
