package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrCodeEU/facecompare/pkg/logging"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request identifier on requests and responses.
const RequestIDHeader = "X-Request-ID"

// requestID tags every request with a UUID and stores a request-scoped log
// entry on the context. A well-formed incoming ID is kept.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		entry := logging.Component("http").WithField("request_id", id)
		next.ServeHTTP(w, r.WithContext(logging.WithContext(r.Context(), entry)))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.FromContext(r.Context()).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		}).Info("Request handled")
	})
}

// debugRequest logs the request line and body framing before the handler
// runs. Enabled by server.debug.
func debugRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).WithFields(logrus.Fields{
			"method":         r.Method,
			"path":           r.URL.Path,
			"host":           r.Host,
			"content_type":   r.Header.Get("Content-Type"),
			"content_length": r.ContentLength,
			"user_agent":     r.UserAgent(),
		}).Info("Request received")
		next.ServeHTTP(w, r)
	})
}

// allowedHosts rejects requests whose Host header is not listed. "*" allows
// any host; a leading dot matches the domain and its subdomains.
func allowedHosts(hosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hostAllowed(hosts, r.Host) {
				logging.FromContext(r.Context()).Warnf("Rejected request for host %q", r.Host)
				respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid host header"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(patterns []string, host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "*":
			return true
		case strings.HasPrefix(p, "."):
			if host == p[1:] || strings.HasSuffix(host, p) {
				return true
			}
		case p == host:
			return true
		}
	}
	return false
}
