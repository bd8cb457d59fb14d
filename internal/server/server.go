// Package server hosts the relay handler on an HTTP listener and, when
// enabled, the metrics endpoint on a second one.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"chatrelay/internal/metrics"
)

// Config configures the listeners.
type Config struct {
	Host              string
	Port              int
	Handler           http.Handler
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	MetricsAddr       string
	MetricsPath       string // default: /metrics
	Logger            *slog.Logger
}

// Server runs the relay until its context is cancelled.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	server  *http.Server
	metrics *http.Server
}

func New(cfg Config) *Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Addr is the host:port the relay listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	var mln net.Listener
	if s.cfg.MetricsEnabled {
		mln, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("listen metrics %s: %w", s.cfg.MetricsAddr, err)
		}
	}
	return s.Serve(ctx, ln, mln)
}

// Serve serves the relay on ln and metrics on mln (which may be nil). It
// drains in-flight requests for up to ShutdownTimeout once ctx is done.
func (s *Server) Serve(ctx context.Context, ln, mln net.Listener) error {
	s.server = &http.Server{
		Handler:           Recover(s.logger, AccessLog(s.logger, s.cfg.Handler)),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	s.logger.Info("relay server starting", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("relay server: %w", err)
		}
	}()

	if mln != nil {
		mux := http.NewServeMux()
		mux.Handle(s.cfg.MetricsPath, metrics.Collector.Handler())
		s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: s.cfg.ReadHeaderTimeout}
		s.logger.Info("metrics server starting", "addr", mln.Addr().String(), "path", s.cfg.MetricsPath)
		go func() {
			if err := s.metrics.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("relay server shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if s.metrics != nil {
		s.metrics.Shutdown(shutdownCtx)
	}
	if err := s.server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}
