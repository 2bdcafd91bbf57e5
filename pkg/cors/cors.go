// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package cors relaxes the browser same-origin policy for every response the
// server writes, proxied or not.
package cors

import (
	"net/http"
)

const (
	HeaderAllowOrigin    = "Access-Control-Allow-Origin"
	HeaderAllowMethods   = "Access-Control-Allow-Methods"
	HeaderAllowHeaders   = "Access-Control-Allow-Headers"
	HeaderRequestHeaders = "Access-Control-Request-Headers"

	AllowAnyOrigin = "*"
	AllowedMethods = "GET,HEAD,PUT,PATCH,POST,DELETE"
)

// Middleware answers preflight requests locally and forces
// Access-Control-Allow-Origin: * on everything else next writes.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			servePreflight(w, r)
			return
		}
		rw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		// Handlers that return without writing still get an implicit 200.
		if !rw.wroteHeader {
			rw.WriteHeader(http.StatusOK)
		}
	})
}

func servePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set(HeaderAllowOrigin, AllowAnyOrigin)
	h.Set(HeaderAllowMethods, AllowedMethods)
	if requested := r.Header.Get(HeaderRequestHeaders); requested != "" {
		h.Set(HeaderAllowHeaders, requested)
		h.Add("Vary", HeaderRequestHeaders)
	}
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
}

// responseWriter overrides the origin header right before the status line goes
// out, so it wins over whatever the wrapped handler copied in.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.ResponseWriter.Header().Set(HeaderAllowOrigin, AllowAnyOrigin)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps streamed upstream bodies flowing through the wrapper.
func (w *responseWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
