package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/sidelights/internal/lights"
	"github.com/muurk/sidelights/internal/logging"
	"github.com/muurk/sidelights/internal/ota"
	"github.com/muurk/sidelights/internal/provisioning"
	"github.com/muurk/sidelights/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

// Config holds the server configuration
type Config struct {
	Listen string
	// ReadTimeout bounds each individual read of a request body
	ReadTimeout time.Duration
}

// Deps are the components the handlers drive. Lights may be nil, in which
// case POST /control is not served.
type Deps struct {
	Supervisor   *supervisor.Supervisor
	Provisioning *provisioning.Handler
	OTA          *ota.Transfer
	Lights       *lights.Controller
}

// Server is the controller's HTTP endpoint
type Server struct {
	config *Config
	deps   Deps

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// New creates a new Server instance
func New(config *Config, deps Deps) (*Server, error) {
	if deps.Supervisor == nil || deps.Provisioning == nil || deps.OTA == nil {
		return nil, errors.New("server requires supervisor, provisioning and ota components")
	}
	if config.ReadTimeout <= 0 {
		return nil, fmt.Errorf("read timeout must be positive, got %s", config.ReadTimeout)
	}
	return &Server{config: config, deps: deps}, nil
}

// Start listens on the configured address and serves until ctx is done or
// an interrupt arrives, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	logging.Info("HTTP server listening", zap.String("addr", listener.Addr().String()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(listener)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
	case <-ctx.Done():
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Addr returns the bound listen address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}

	logging.Info("Shutting down server...")
	if err := httpServer.Shutdown(ctx); err != nil {
		logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
		return httpServer.Close()
	}
	logging.Info("All connections closed gracefully")
	return nil
}
