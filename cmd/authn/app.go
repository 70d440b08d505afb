package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/vyrodovalexey/avauthn/internal/auth"
	"github.com/vyrodovalexey/avauthn/internal/config"
	"github.com/vyrodovalexey/avauthn/internal/observability"
	"github.com/vyrodovalexey/avauthn/internal/server"
)

// application holds all running components.
type application struct {
	config   *config.Config
	logger   observability.Logger
	registry *observability.Registry
	tracer   *observability.Tracer
	metrics  *auth.EngineMetrics
	server   *server.Server

	mu     sync.Mutex
	engine *auth.Engine
}

// newApplication opens the engine and builds the server for cfg.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (*application, error) {
	tracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	registry := observability.NewRegistry(cfg.Metrics.Namespace)
	registry.SetBuildInfo(version, gitCommit)

	metrics := auth.NewEngineMetrics(cfg.Metrics.Namespace)
	if err := metrics.Register(registry.Registerer()); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	metrics.Auth.Init()

	engine, err := auth.Open(ctx, &cfg.Auth, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("auth engine: %w", err)
	}

	opts := []server.Option{
		server.WithLogger(logger.With(observability.String("component", "server"))),
		server.WithMetrics(metrics.Auth),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetricsHandler(cfg.Metrics.Path, registry.Handler()))
	}

	srv, err := server.New(cfg.Server, engine, opts...)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("server: %w", err)
	}

	return &application{
		config:   cfg,
		logger:   logger,
		registry: registry,
		tracer:   tracer,
		metrics:  metrics,
		server:   srv,
		engine:   engine,
	}, nil
}

// reload opens an engine for cfg and swaps it in. On error the running
// engine stays in place. Server and observability sections need a
// restart; changes to them are logged and ignored.
func (a *application) reload(ctx context.Context, cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !reflect.DeepEqual(a.config.Server, cfg.Server) ||
		!reflect.DeepEqual(a.config.Metrics, cfg.Metrics) ||
		!reflect.DeepEqual(a.config.Tracing, cfg.Tracing) {
		a.logger.Warn("server, metrics and tracing changes require a restart")
	}

	engine, err := auth.Open(ctx, &cfg.Auth, a.logger, a.metrics)
	if err != nil {
		a.registry.RecordReload(false)
		return fmt.Errorf("auth engine: %w", err)
	}

	old := a.engine
	a.engine = engine
	a.config.Auth = cfg.Auth
	a.server.SwapAuthenticator(engine)
	a.registry.RecordReload(true)

	if err := old.Close(); err != nil {
		a.logger.Warn("failed to close previous engine", observability.Error(err))
	}

	a.logger.Info("auth engine reloaded",
		observability.Bool("jwt", cfg.Auth.IsJWTEnabled()),
		observability.Bool("apiKey", cfg.Auth.IsAPIKeyEnabled()),
	)
	return nil
}

// shutdown stops the server, then the engine and tracer.
func (a *application) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	a.mu.Lock()
	if err := a.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	a.mu.Unlock()

	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	return errors.Join(errs...)
}
