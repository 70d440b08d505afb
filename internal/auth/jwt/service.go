package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

const staticSource = "static"

// Service wires the configured key providers and the Factory.
type Service struct {
	*Factory

	Keyring *Keyring
	JWKS    *JWKSProvider
	File    *FileKeyProvider
}

// Open loads every configured key source and starts refreshes. The
// initial load of each source must succeed.
func Open(ctx context.Context, cfg *Config, logger observability.Logger, metrics *Metrics) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
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

	s := &Service{Keyring: NewKeyring(NewTrustedKeys(), logger, metrics)}

	if len(cfg.StaticKeys) > 0 {
		set, err := NewStaticKeySet(cfg.StaticKeys)
		if err != nil {
			return nil, err
		}
		if err := s.Keyring.Update(staticSource, set); err != nil {
			return nil, err
		}
	}

	if cfg.KeysFile != "" {
		fp, err := NewFileKeyProvider(cfg.KeysFile, s.Keyring,
			WithFileLogger(logger),
			WithFileMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
		if err := fp.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to load keys file: %w", err)
		}
		s.File = fp
	}

	if cfg.JWKS != nil {
		jp, err := NewJWKSProvider(cfg.JWKS.URL, s.Keyring,
			WithHTTPClient(&http.Client{}),
			WithRefreshSchedule(cfg.JWKS.RefreshSchedule),
			WithFetchTimeout(cfg.JWKS.Timeout),
			WithJWKSLogger(logger),
			WithJWKSMetrics(metrics),
		)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := jp.Start(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("initial JWKS load failed: %w", err)
		}
		s.JWKS = jp
	}

	factory, err := NewFactory(cfg, s.Keyring,
		WithFactoryLogger(logger),
		WithFactoryMetrics(metrics),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Factory = factory
	return s, nil
}

// Close stops the key providers.
func (s *Service) Close() {
	if s.JWKS != nil {
		s.JWKS.Stop()
	}
	if s.File != nil {
		_ = s.File.Stop()
	}
}
