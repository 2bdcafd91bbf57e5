// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	perrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/cors-dev-proxy/pkg/config"
	"github.com/go-core-stack/cors-dev-proxy/pkg/cors"
)

// hopHeaders lists standard hop-by-hop headers that must be stripped before a
// request is proxied so the upstream connection semantics remain correct.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Proxy forwards requests under the configured prefix to a single upstream
// origin and relays the response unmodified apart from the CORS header.
type Proxy struct {
	// prefix is removed from the inbound path before forwarding.
	prefix string
	// client performs outbound HTTP requests with tuned transport settings.
	client *http.Client
	// logger emits structured logs for observability.
	logger zerolog.Logger
	// baseURL is the parsed upstream address used to resolve inbound paths.
	baseURL *url.URL
}

// New constructs a Proxy backed by an http.Client configured with sensible
// connection pooling defaults and the provided runtime configuration.
func New(cfg config.Config) (http.Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, perrors.Wrap(err, "invalid proxy configuration")
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: transport,
		// Redirects belong to the caller.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Proxy{
		prefix:  cfg.PathPrefix,
		client:  client,
		logger:  log.With().Str("component", "proxy").Logger(),
		baseURL: cloneURL(cfg.Upstream),
	}, nil
}

// ServeHTTP streams the request/response pair to and from the upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	event := p.logger.With().
		Str("request_id", uuid.NewString()).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Logger()

	resp, err := p.forwardRequest(r)
	if err != nil {
		status := http.StatusBadGateway
		var httpErr *httpError
		if errors.As(err, &httpErr) {
			status = httpErr.Status
		}
		http.Error(w, http.StatusText(status), status)
		event.Debug().
			Err(err).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request failed")
		return
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			event.Debug().
				Err(closeErr).
				Msg("close upstream response body failed")
		}
	}()

	cleanHopHeaders(resp.Header)
	resp.Header.Set(cors.HeaderAllowOrigin, cors.AllowAnyOrigin)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, copyErr := copyBody(w, resp.Body); copyErr != nil {
		event.Debug().
			Err(copyErr).
			Dur("duration", time.Since(start)).
			Msg("stream response failed")
		return
	}

	event.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request proxied")
}

// forwardRequest clones the inbound request onto the upstream target and
// returns the upstream response for the caller to stream back.
func (p *Proxy) forwardRequest(r *http.Request) (*http.Response, error) {
	targetURL := p.targetURL(r.URL)

	var body io.Reader
	if r.ContentLength != 0 && r.Body != nil {
		body = r.Body
	}
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), body)
	if err != nil {
		return nil, perrors.Wrap(err, "build upstream request")
	}
	upstreamReq.ContentLength = r.ContentLength

	copyHeaders(upstreamReq.Header, r.Header)
	cleanHopHeaders(upstreamReq.Header)
	augmentForwardHeaders(upstreamReq.Header, r)

	// changeOrigin: present the upstream's own host rather than ours.
	upstreamReq.Host = targetURL.Host

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, &httpError{Status: http.StatusGatewayTimeout, Err: err}
		default:
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, &httpError{Status: http.StatusGatewayTimeout, Err: err}
			}
		}
		return nil, perrors.Wrap(err, "perform upstream request")
	}

	return resp, nil
}

// targetURL maps an inbound URL onto the upstream, keeping the upstream's
// base path and the inbound query. The rewrite works on the escaped form so
// encoded reserved characters such as %2F reach the upstream untouched.
func (p *Proxy) targetURL(requestURL *url.URL) *url.URL {
	target := cloneURL(p.baseURL)
	rawPath := singleJoiningSlash(p.baseURL.EscapedPath(), Rewrite(requestURL.EscapedPath(), p.prefix))
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		path = singleJoiningSlash(p.baseURL.Path, Rewrite(requestURL.Path, p.prefix))
		rawPath = ""
	}
	target.Path = path
	target.RawPath = rawPath
	target.RawQuery = requestURL.RawQuery
	target.Fragment = ""
	return target
}

// Rewrite removes prefix from the start of path exactly once. Paths that do
// not start with prefix are returned unchanged; an emptied path becomes "/".
func Rewrite(path, prefix string) string {
	rewritten, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return path
	}
	if rewritten == "" {
		return "/"
	}
	return rewritten
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// copyBody streams src to w, flushing after each chunk so long-lived upstream
// responses reach the caller promptly.
func copyBody(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, writeErr
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, err
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// cloneURL makes a shallow copy of the provided URL pointer.
func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

// copyHeaders appends all headers from src into dst.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// cleanHopHeaders removes hop-by-hop headers that should not be forwarded.
func cleanHopHeaders(h http.Header) {
	for k := range hopHeaders {
		h.Del(k)
	}
}

// augmentForwardHeaders ensures X-Forwarded-* headers capture client metadata.
func augmentForwardHeaders(h http.Header, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := r.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		h.Set("X-Forwarded-Proto", scheme)
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	h.Set("X-Forwarded-Host", r.Host)
}

// httpError wraps a status code with the underlying error from the upstream round trip.
type httpError struct {
	Status int   // Status preserves the HTTP status to emit downstream.
	Err    error // Err retains the original cause for logging.
}

// Error implements the error interface for httpError.
func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *httpError) Unwrap() error {
	return e.Err
}
