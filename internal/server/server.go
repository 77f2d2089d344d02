// Package server hosts the control API behind one HTTP server with a shared
// middleware chain of request identifiers, access logging, and metrics.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"streampulse/internal/api"
	"streampulse/internal/observability/metrics"
)

// TLSConfig defines certificate and key paths for enabling TLS listeners.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config controls the HTTP server runtime behaviour.
type Config struct {
	Addr            string
	TLS             TLSConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	ShutdownTimeout time.Duration
	// Ready, when set, is closed once the listener is accepting connections.
	Ready chan<- struct{}
}

// DefaultShutdownTimeout bounds graceful shutdown when the context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Server wraps the configured http.Server and its lifecycle.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	tls        TLSConfig
	timeout    time.Duration
	ready      chan<- struct{}
	addr       string
}

// New wires the API handler into a routed, instrumented HTTP server.
func New(handler *api.Handler, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(logger))
	if cfg.Metrics != nil {
		router.Use(metrics.RequestMiddleware(cfg.Metrics))
	}

	router.Get("/healthz", healthHandler)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	handler.Register(router)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	return &Server{
		httpServer: httpServer,
		logger:     logger,
		tls:        cfg.TLS,
		timeout:    timeout,
		ready:      cfg.Ready,
	}
}

// Run starts the server and blocks until it stops. When the context is
// cancelled, Run attempts a graceful shutdown bounded by ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	if (s.tls.CertFile == "") != (s.tls.KeyFile == "") {
		return fmt.Errorf("both TLS cert file and key file must be provided")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	if s.tls.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(s.tls.CertFile, s.tls.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		tlsCfg := &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		s.httpServer.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.addr = ln.Addr().String()
	if s.ready != nil {
		close(s.ready)
	}
	s.logger.Info("http server listening", "addr", s.addr, "tls", s.tls.CertFile != "")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}

// Addr reports the bound listener address. It is valid once the Ready
// channel has been signalled.
func (s *Server) Addr() string {
	return s.addr
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := metrics.NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
