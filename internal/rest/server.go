package rest

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/raftkv/internal/logging"
)

// ServerConfig holds REST server configuration.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// CommitTimeout bounds how long a write waits to apply.
	CommitTimeout time.Duration
	RateLimit     int
	Version       string
}

// DefaultServerConfig returns default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:       "127.0.0.1:8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   120 * time.Second,
		CommitTimeout: 5 * time.Second,
		RateLimit:     0,
	}
}

// Server is the REST API server.
type Server struct {
	config   *ServerConfig
	logger   logging.Logger
	handlers *Handlers
	router   *Router
	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a new REST server for store.
func NewServer(cfg *ServerConfig, store Store, logger logging.Logger) *Server {
	logger = logger.WithFields("component", "http")
	s := &Server{
		config:   cfg,
		logger:   logger,
		handlers: NewHandlers(store, logger, cfg.Version, cfg.CommitTimeout),
		router:   NewRouter(),
	}

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/v1/health", s.handlers.HandleHealth)
	s.router.GET("/api/v1/status", s.handlers.HandleStatus)

	s.router.GET("/api/v1/keys", s.handlers.HandleListKeys)
	s.router.GET("/api/v1/keys/{key}", s.handlers.HandleGetKey)
	s.router.PUT("/api/v1/keys/{key}", s.handlers.HandlePutKey)
	s.router.DELETE("/api/v1/keys/{key}", s.handlers.HandleDeleteKey)
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(ConnectionTrackingMiddleware(s.handlers))

	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(s.config.RateLimit))
	}
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the REST server.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("REST server started", "address", listener.Addr().String())

	go server.Serve(listener)
	return nil
}

// Addr returns the listening address once started, otherwise the
// configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}

// Stop gracefully stops the REST server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("REST server stopped")
	return nil
}
