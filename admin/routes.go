package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/waljson/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin router. /metrics is mounted only when
// Prometheus is enabled.
func NewRouter(handlers *AdminHandlers, secret string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)
	r.With(AuthMiddleware(secret)).Get("/stats", handlers.handleStats)

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}

// Server runs the admin router on its own listener
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// Start listens on address:port and serves in the background
func Start(address string, port int, handler http.Handler) (*Server, error) {
	addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	log.Info().Str("address", listener.Addr().String()).Msg("Admin endpoints enabled at /health, /stats and /metrics")
	return s, nil
}

// Addr returns the bound listener address
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop gracefully stops the admin server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
