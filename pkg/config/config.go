// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	envPort = "PORT"

	defaultPort                    = 3000
	defaultPathPrefix              = "/api"
	defaultUpstreamURL             = "https://your-backend-api-url.com"
	defaultLogLevel                = "info"
	defaultServerIdleTimeout       = 120 * time.Second
	defaultGracefulShutdownTimeout = 10 * time.Second
)

// Config captures runtime settings for the proxy. It is built once at startup
// and handed to constructors by value; nothing mutates it afterwards.
type Config struct {
	ListenHost string
	Port       int
	// PathPrefix is stripped from inbound paths before forwarding.
	PathPrefix string
	Upstream   *url.URL
	LogLevel   string
	// RequestTimeout bounds an upstream round trip; zero leaves it to the transport.
	RequestTimeout          time.Duration
	ServerIdleTimeout       time.Duration
	GracefulShutdownTimeout time.Duration
}

// Load builds the configuration. Only the listen port is taken from the
// environment; the prefix and upstream are fixed and meant to be edited here.
func Load() (Config, error) {
	port, err := getPort(envPort, defaultPort)
	if err != nil {
		return Config{}, err
	}

	upstream, err := url.Parse(defaultUpstreamURL)
	if err != nil {
		return Config{}, errors.Wrap(err, "invalid upstream url")
	}

	cfg := Config{
		Port:                    port,
		PathPrefix:              defaultPathPrefix,
		Upstream:                upstream,
		LogLevel:                defaultLogLevel,
		ServerIdleTimeout:       defaultServerIdleTimeout,
		GracefulShutdownTimeout: defaultGracefulShutdownTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the proxy relies on.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	if !strings.HasPrefix(c.PathPrefix, "/") || strings.HasSuffix(c.PathPrefix, "/") {
		return errors.Errorf("path prefix %q must start and not end with '/'", c.PathPrefix)
	}
	if c.Upstream == nil || !c.Upstream.IsAbs() || c.Upstream.Host == "" {
		return errors.New("upstream must be absolute (scheme://host)")
	}
	return nil
}

// ListenAddr returns the host:port the server binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port))
}

func getPort(key string, fallback int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if port < 0 || port > 65535 {
		return 0, errors.Errorf("invalid %s: %d out of range", key, port)
	}
	return port, nil
}
