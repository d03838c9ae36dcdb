package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"lumina-hq/atlas/pkg/backends"
	"lumina-hq/atlas/pkg/config"
	"lumina-hq/atlas/pkg/gateway"
	"lumina-hq/atlas/pkg/ledger"
)

// Server is the gateway's admin HTTP listener.
type Server struct {
	config   config.ServerConfig
	engine   *gateway.Engine
	ledger   *ledger.Ledger
	registry *backends.Registry
	metrics  http.Handler
	logger   *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New creates the admin server. The metrics handler may be nil, in which
// case /metrics is not registered.
func New(cfg config.ServerConfig, engine *gateway.Engine, ldgr *ledger.Ledger,
	registry *backends.Registry, metricsHandler http.Handler) *Server {

	return &Server{
		config:   cfg,
		engine:   engine,
		ledger:   ldgr,
		registry: registry,
		metrics:  metricsHandler,
		logger:   slog.Default().With("component", "server"),
	}
}

// Start starts the listener and blocks until the context is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("admin listener started", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		if err := s.Shutdown(context.Background()); err != nil {
			return err
		}
		return <-errChan
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the listener, draining in-flight
// connections up to the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("admin listener stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the listener is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured route table. Exposed for tests and for
// embedding the admin surface into another listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/dispatch", s.handleDispatch)

	mux.HandleFunc("POST /admin/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /admin/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("GET /admin/accounts/{id}/transactions", s.handleTransactions)
	mux.HandleFunc("POST /admin/accounts/{id}/topup", s.handleTopUp)
	mux.HandleFunc("POST /admin/accounts/{id}/deactivate", s.handleSetActive(false))
	mux.HandleFunc("POST /admin/accounts/{id}/activate", s.handleSetActive(true))

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /health/providers", s.handleProviderHealth)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}
