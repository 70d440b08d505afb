// Package server hosts the authentication engine as a forward-auth HTTP
// service for reverse proxies.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avauthn/internal/auth"
	"github.com/vyrodovalexey/avauthn/internal/config"
	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Route paths.
const (
	verifyPath = "/auth/verify"
	healthPath = "/healthz"
	readyPath  = "/readyz"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid races.
var ginModeOnce sync.Once

// Authenticator is the engine surface the server needs.
type Authenticator interface {
	Authenticate(r *http.Request) auth.Result
	Ready() bool
}

type authnRef struct {
	a Authenticator
}

// Server is the forward-auth HTTP server.
type Server struct {
	cfg            config.ServerConfig
	engine         *gin.Engine
	httpServer     *http.Server
	authn          atomic.Pointer[authnRef]
	throttle       *Throttle
	metrics        *auth.Metrics
	metricsPath    string
	metricsHandler http.Handler
	logger         observability.Logger
	now            func() time.Time
	mu             sync.Mutex
	running        bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records throttled requests on m.
func WithMetrics(m *auth.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMetricsHandler serves h on path.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
	}
}

// WithClock overrides the throttle clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a server for authn.
func New(cfg config.ServerConfig, authn Authenticator, opts ...Option) (*Server, error) {
	if authn == nil {
		return nil, errors.New("authenticator is required")
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		cfg:      cfg,
		engine:   gin.New(),
		throttle: NewThrottle(cfg.Throttle),
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = auth.NewMetrics("")
	}
	s.authn.Store(&authnRef{a: authn})

	if err := s.engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	s.engine.Use(recovery(s.logger), requestID(), logging(s.logger))
	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.engine.Any(verifyPath, s.verify)
	s.engine.GET(healthPath, s.healthz)
	s.engine.GET(readyPath, s.readyz)
	if s.metricsHandler != nil {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metricsHandler))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Authenticator returns the current authenticator.
func (s *Server) Authenticator() Authenticator {
	return s.authn.Load().a
}

// SwapAuthenticator replaces the authenticator for subsequent requests
// and returns the previous one. Requests in flight finish on the old one.
func (s *Server) SwapAuthenticator(authn Authenticator) Authenticator {
	return s.authn.Swap(&authnRef{a: authn}).a
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", ln.Addr().String()),
		observability.Duration("readTimeout", s.cfg.ReadTimeout),
		observability.Duration("writeTimeout", s.cfg.WriteTimeout),
	)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ln)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
