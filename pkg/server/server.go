// Package server exposes the comparison pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/facecompare/pkg/compare"
	"github.com/MrCodeEU/facecompare/pkg/config"
	"github.com/MrCodeEU/facecompare/pkg/logging"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Comparer runs one comparison.
type Comparer interface {
	Compare(ctx context.Context, req compare.Request) compare.Outcome
}

// Server is the HTTP front end.
type Server struct {
	cfg        config.ServerConfig
	comparer   Comparer
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a server for cfg that delegates comparisons to comparer.
func NewServer(cfg config.ServerConfig, comparer Comparer) *Server {
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = 32 << 20
	}

	r := chi.NewRouter()
	s := &Server{
		cfg:      cfg,
		comparer: comparer,
		router:   r,
	}

	r.Use(requestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(accessLog)
	if cfg.Debug {
		r.Use(debugRequest)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(allowedHosts(cfg.AllowedHosts))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/compare-face/", s.handleCompareFace)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens on the configured address until SIGINT or SIGTERM, then
// shuts down gracefully.
func (s *Server) Start() error {
	return s.Serve(nil, nil)
}

// Serve serves on listener (or the configured address when nil) until a
// signal arrives on signalCh, or SIGINT/SIGTERM when signalCh is nil.
// In-flight requests get up to the shutdown timeout to finish.
func (s *Server) Serve(listener net.Listener, signalCh <-chan os.Signal) error {
	log := logging.Component("server")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			log.Infof("Starting web server on %s", listener.Addr())
			err = s.httpServer.Serve(listener)
		} else {
			log.Infof("Starting web server on %s", s.httpServer.Addr)
			err = s.httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("server").Info("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
