package auth

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// EngineMetrics groups the metrics of every engine component.
type EngineMetrics struct {
	Auth   *Metrics
	APIKey *apikey.Metrics
	JWT    *jwt.Metrics
}

// NewEngineMetrics creates unregistered metrics under namespace.
func NewEngineMetrics(namespace string) *EngineMetrics {
	return &EngineMetrics{
		Auth:   NewMetrics(namespace),
		APIKey: apikey.NewMetrics(namespace),
		JWT:    jwt.NewMetrics(namespace),
	}
}

// Register registers every component's collectors on reg.
func (m *EngineMetrics) Register(reg prometheus.Registerer) error {
	return errors.Join(
		m.Auth.Register(reg),
		m.APIKey.Register(reg),
		m.JWT.Register(reg),
	)
}

// Engine is a running authentication engine: the enabled verifiers and
// the dispatcher in front of them.
type Engine struct {
	*Dispatcher

	APIKeys *apikey.Service
	JWT     *jwt.Service
}

// Open builds an Engine from cfg. API key stores are opened and JWT key
// sources loaded before it returns.
func Open(ctx context.Context, cfg *Config, logger observability.Logger, metrics *EngineMetrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = NewEngineMetrics("")
	}

	e := &Engine{}
	opts := []DispatcherOption{
		WithDispatcherLogger(logger.With(observability.String("component", "auth"))),
		WithDispatcherMetrics(metrics.Auth),
	}

	var keys apikey.Extractor
	if cfg.IsAPIKeyEnabled() {
		svc, err := apikey.Open(ctx, cfg.APIKey, logger.With(observability.String("component", "apikey")), metrics.APIKey)
		if err != nil {
			return nil, err
		}
		e.APIKeys = svc
		keys = svc.Extractor
		opts = append(opts, WithAPIKeyVerifier(svc.Verifier))
	}

	if cfg.IsJWTEnabled() {
		svc, err := jwt.Open(ctx, cfg.JWT, logger.With(observability.String("component", "jwt")), metrics.JWT)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.JWT = svc
		opts = append(opts,
			WithTokenVerifier(svc),
			WithClaimMapping(cfg.JWT.GetClaimMapping()),
		)
	}

	opts = append(opts, WithCredentialExtractor(NewCredentialExtractor(cfg.TrustsALBHeader(), keys)))
	d, err := NewDispatcher(opts...)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.Dispatcher = d
	return e, nil
}

// Ready reports whether every enabled scheme can verify. JWT needs a
// published trusted key snapshot.
func (e *Engine) Ready() bool {
	return e.JWT == nil || e.JWT.Ready()
}

// Close stops key refreshes and releases store connections.
func (e *Engine) Close() error {
	if e.JWT != nil {
		e.JWT.Close()
	}
	if e.APIKeys != nil {
		return e.APIKeys.Close()
	}
	return nil
}
