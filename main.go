// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/cors-dev-proxy/pkg/config"
	"github.com/go-core-stack/cors-dev-proxy/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("invalid log level")
	}
	log.Logger = log.Level(level)

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct server")
	}

	ln, err := srv.Listen()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind listen port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx, ln); err != nil {
		log.Fatal().Err(err).Msg("proxy server exited unexpectedly")
	}
}
