// Package api provides the HTTP status and control API of a stargate session
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-stargate/pkg/delivery"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

// ErrNotReady is reported by the readiness check while the transport is not
// connected
var ErrNotReady = errors.New("api: transport not connected")

// Session is the part of session.Server the API drives
type Session interface {
	Status() stargate.Status
	State() string
	User() string
	Queue() *delivery.Queue
	SendPackage(data []byte, handler delivery.Handler, priority int) error
	Complete(signature string, err error) bool
}

// Config holds server configuration
type Config struct {
	Listen         string
	EnableCORS     bool
	MaxBodyBytes   int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownPeriod time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8088",
		EnableCORS:     true,
		MaxBodyBytes:   1 << 20,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		ShutdownPeriod: 5 * time.Second,
	}
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer selects the registry served on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// Server represents the HTTP API server
type Server struct {
	session  Session
	config   *Config
	router   *gin.Engine
	health   healthcheck.Handler
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP API server for session
func NewServer(session Session, config *Config, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Server{
		session:  session,
		config:   config,
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")

	s.health = healthcheck.NewHandler()
	s.health.AddLivenessCheck("session", func() error { return nil })
	s.health.AddReadinessCheck("transport", s.ready)

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(s.logger))
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", gin.WrapF(s.health.LiveEndpoint))
	s.router.GET("/ready", gin.WrapF(s.health.ReadyEndpoint))
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.POST("/send", s.handleSend)
		v1.POST("/complete", s.handleComplete)
	}
}

func (s *Server) ready() error {
	if st := s.session.Status(); st != stargate.StatusConnected {
		return fmt.Errorf("%w: %s", ErrNotReady, st)
	}
	return nil
}

// Router exposes the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start listens on the configured address and serves until ctx is done, then
// shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 API server listening", zap.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("🛑 shutting down API server")
	return s.Stop()
}

// Addr returns the bound address once Start listens
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownPeriod)
	defer cancel()
	return srv.Shutdown(ctx)
}
