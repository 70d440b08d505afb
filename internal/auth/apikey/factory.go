package apikey

import (
	"context"
	"fmt"
	"io"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noopCloser = closerFunc(func() error { return nil })

// OpenStore opens the configured backend and wraps it in a GuardedStore.
// The returned closer releases backend connections.
func OpenStore(
	ctx context.Context, cfg StoreConfig, logger observability.Logger, metrics *Metrics,
) (*GuardedStore, io.Closer, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		backend Store
		closer  io.Closer = noopCloser
		name              = cfg.Type
	)

	switch cfg.Type {
	case "", StoreTypeMemory:
		name = StoreTypeMemory
		ms, err := NewMemoryStore(cfg.Records...)
		if err != nil {
			return nil, nil, err
		}
		backend = ms
	case StoreTypeRedis:
		rs, err := OpenRedisStore(ctx, cfg.Redis, WithRedisLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		backend, closer = rs, rs
	case StoreTypeVault:
		vs, err := OpenVaultStore(cfg.Vault, logger)
		if err != nil {
			return nil, nil, err
		}
		backend = vs
	case StoreTypeSQL:
		ss, err := OpenSQLStore(ctx, cfg.SQL, logger)
		if err != nil {
			return nil, nil, err
		}
		backend, closer = ss, ss
	default:
		return nil, nil, fmt.Errorf("invalid store type: %s", cfg.Type)
	}

	logger.Info("api key store opened", observability.String("store", name))

	guarded := NewGuardedStore(backend, name, cfg.Breaker.Settings(),
		WithGuardTimeout(cfg.Timeout),
		WithGuardLogger(logger),
		WithGuardMetrics(metrics),
	)
	return guarded, closer, nil
}

// Service bundles everything needed to verify API keys from requests.
type Service struct {
	Verifier  Verifier
	Extractor Extractor
	Cache     *IdentityCache
	Store     *GuardedStore

	closer io.Closer
}

// Open builds a Service from cfg.
func Open(ctx context.Context, cfg *Config, logger observability.Logger, metrics *Metrics) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics("")
	}

	store, closer, err := OpenStore(ctx, cfg.Store, logger, metrics)
	if err != nil {
		return nil, err
	}

	opts := []VerifierOption{
		WithVerifierLogger(logger),
		WithVerifierMetrics(metrics),
		WithHashers(cfg.Hash.Hashers()),
	}
	var cache *IdentityCache
	if cfg.Cache.Enabled {
		cache = NewIdentityCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
		opts = append(opts, WithIdentityCache(cache))
	}

	verifier, err := NewVerifier(store, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &Service{
		Verifier:  verifier,
		Extractor: NewExtractor(cfg.Extraction),
		Cache:     cache,
		Store:     store,
		closer:    closer,
	}, nil
}

// Close releases store connections.
func (s *Service) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
