// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package server wires the forwarding proxy behind a router and the CORS
// middleware, and owns the listener lifecycle.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	perrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/cors-dev-proxy/pkg/config"
	"github.com/go-core-stack/cors-dev-proxy/pkg/cors"
	"github.com/go-core-stack/cors-dev-proxy/pkg/proxy"
)

// Server is the HTTP front of the proxy.
type Server struct {
	cfg    config.Config
	http   *http.Server
	logger zerolog.Logger
}

// NewHandler routes the prefix and everything beneath it to proxyHandler.
// Other paths get the router's default 404. Every response, 404s included,
// passes through the CORS middleware. Matching is case-sensitive and runs on
// the escaped path without cleaning, so "/api//x" and "/api/a%2Fb" are
// forwarded verbatim instead of redirected or decoded.
func NewHandler(cfg config.Config, proxyHandler http.Handler) http.Handler {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	r.Handle(cfg.PathPrefix, proxyHandler)
	r.PathPrefix(cfg.PathPrefix + "/").Handler(proxyHandler)
	return cors.Middleware(r)
}

// New assembles the proxy, the router and the http.Server for cfg.
func New(cfg config.Config) (*Server, error) {
	proxyHandler, err := proxy.New(cfg)
	if err != nil {
		return nil, perrors.Wrap(err, "construct proxy")
	}

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Handler:     NewHandler(cfg, proxyHandler),
			IdleTimeout: cfg.ServerIdleTimeout,
		},
		logger: log.With().Str("component", "server").Logger(),
	}, nil
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return nil, perrors.Wrapf(err, "listen on %s", s.cfg.ListenAddr())
	}
	return ln, nil
}

// Serve announces the bound port and serves on ln until ctx is done, then
// shuts down within the configured grace period.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	port := ln.Addr().(*net.TCPAddr).Port
	log.Info().
		Int("port", port).
		Str("upstream", s.cfg.Upstream.String()).
		Str("prefix", s.cfg.PathPrefix).
		Msgf("CORS proxy running on port %d", port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return perrors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down CORS proxy")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("graceful shutdown failed; forcing close")
		if closeErr := s.http.Close(); closeErr != nil {
			s.logger.Error().Err(closeErr).Msg("forced close failed")
		}
	}
	<-errCh

	s.logger.Info().Msg("proxy stopped")
	return nil
}
