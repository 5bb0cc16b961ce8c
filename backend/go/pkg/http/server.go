package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"factforge/backend/go/internal/config"
	"factforge/backend/go/pkg/logger"
)

// Server wraps http.Server around a single handler (the gin engine) with
// configured timeouts and graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// ServerOption defines a function for configuring a Server.
type ServerOption func(*Server)

// WithAddress sets the address for the server to listen on.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithTimeouts overrides the read and write timeouts.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.httpServer.ReadTimeout = read
		s.httpServer.WriteTimeout = write
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// NewServer creates a Server for handler using cfg.Server.
// Options are applied after the config, so they win.
func NewServer(cfg *config.AppConfig, handler http.Handler, opts ...ServerOption) (*Server, error) {
	if handler == nil {
		return nil, errors.New("http: handler is required")
	}
	srv := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           handler,
			ReadTimeout:       config.Duration(cfg.Server.ReadTimeout, 10*time.Second),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
		},
		log: logger.Nop(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}
	return srv, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Handler returns the wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) ListenAndServe() error {
	if s.httpServer.Addr == "" {
		return fmt.Errorf("server address is not set")
	}
	s.log.WithField("addr", s.httpServer.Addr).Info("HTTP 服务器启动")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP 服务器正在关闭")
	return s.httpServer.Shutdown(ctx)
}
