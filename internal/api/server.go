// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lostsec/killfeed/internal/config"
	"github.com/lostsec/killfeed/internal/logging"
)

// shutdownGrace bounds how long in-flight requests get to finish after
// the serve context is cancelled.
const shutdownGrace = 10 * time.Second

// Server runs the HTTP query surface as a suture service.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server around the router.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
			IdleTimeout:       2 * timeout,
		},
	}
}

// String identifies the service in supervisor logs.
func (s *Server) String() string { return "http-server" }

// Serve implements suture.Service: listen until ctx is cancelled, then
// shut down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
