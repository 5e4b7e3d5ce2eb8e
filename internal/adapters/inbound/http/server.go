// Package http provides the inbound HTTP adapters: the order API, the
// scheduler trigger and the health probes, served from one listener.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Routes is implemented by handlers that mount themselves on a mux.
type Routes interface {
	RegisterRoutes(mux *http.ServeMux)
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080").
	Addr string

	ReadTimeout time.Duration

	// WriteTimeout must exceed the longest synchronous sweep.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 6 * time.Minute,
		Logger:       slog.Default(),
	}
}

// Server serves a set of Routes.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a server with all routes mounted on one mux.
func NewServer(config ServerConfig, routes ...Routes) *Server {
	defaults := ServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	mux := http.NewServeMux()
	for _, r := range routes {
		r.RegisterRoutes(mux)
	}

	return &Server{
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           mux,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
		},
		logger: config.Logger.With("component", "http-server"),
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins listening in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
