//go:build cgo

// Package transport exposes an Application over HTTP and WebSocket,
// per spec.md §6's transport-independent external interfaces. It only
// reads through Application's public methods; it never reaches into
// pkg/mapoverlay's internal state, and pkg/mapoverlay never imports
// encoding/json or net/http.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/collectoroverlay/mapoverlay/pkg/mapoverlay"
)

// Server wraps an Application with an HTTP API and a WebSocket push
// endpoint.
type Server struct {
	app    *mapoverlay.Application
	server *http.Server
}

// NewServer constructs a server listening on addr.
func NewServer(addr string, app *mapoverlay.Application) *Server {
	s := &Server{app: app}
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully. It mirrors the teacher pack's goroutine-plus-ctx.Done
// shutdown pattern.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("transport: starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("transport: HTTP server exited with error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("transport: graceful shutdown failed, forcing close")
		return s.server.Close()
	}
	return nil
}
