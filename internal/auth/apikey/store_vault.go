package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// VaultStore reads records from a Vault KV v2 mount. The secret at
// <mount>/data/<path>/<prefix> maps record IDs to record JSON. Vault is
// treated as read-only; revocation is the record's own flag, re-read on
// every check.
type VaultStore struct {
	client *vaultapi.Client
	mount  string
	path   string
	logger observability.Logger
}

// NewVaultStore wraps a configured Vault client.
func NewVaultStore(client *vaultapi.Client, mount, path string, logger observability.Logger) (*VaultStore, error) {
	if client == nil {
		return nil, errors.New("vault client is required")
	}
	if mount == "" {
		return nil, errors.New("vault mount is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &VaultStore{
		client: client,
		mount:  strings.Trim(mount, "/"),
		path:   strings.Trim(path, "/"),
		logger: logger,
	}, nil
}

// OpenVaultStore builds a Vault client from cfg.
func OpenVaultStore(cfg *VaultConfig, logger observability.Logger) (*VaultStore, error) {
	if cfg == nil {
		return nil, errors.New("vault config is required")
	}

	apiConfig := vaultapi.DefaultConfig()
	if cfg.Address != "" {
		apiConfig.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return NewVaultStore(client, cfg.Mount, cfg.Path, logger)
}

func (s *VaultStore) secretPath(prefix string) string {
	if s.path == "" {
		return fmt.Sprintf("%s/data/%s", s.mount, prefix)
	}
	return fmt.Sprintf("%s/data/%s/%s", s.mount, s.path, prefix)
}

// FindByPrefix implements Store.
func (s *VaultStore) FindByPrefix(ctx context.Context, prefix string) ([]*Record, error) {
	fullPath := s.secretPath(prefix)

	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "apikey.store.find",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.backend", "vault"),
			attribute.String("apikey.prefix", prefix),
		),
	)
	defer span.End()

	secret, err := s.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("vault read %s failed: %w", fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return []*Record{}, nil
	}

	// KV v2 wraps the payload in "data"; soft-deleted secrets carry data: null.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return []*Record{}, nil
	}

	records := make([]*Record, 0, len(data))
	for id, v := range data {
		rec, err := decodeVaultRecord(v)
		if err != nil {
			s.logger.Warn("skipping undecodable api key record",
				observability.String("id", id),
				observability.String("path", fullPath),
				observability.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}

	span.SetAttributes(attribute.Int("apikey.candidates", len(records)))
	return records, nil
}

// decodeVaultRecord accepts either a JSON string or a nested object.
func decodeVaultRecord(v interface{}) (*Record, error) {
	var raw []byte
	switch val := v.(type) {
	case string:
		raw = []byte(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// IsRevoked implements Store. The secret is read again and the record's
// current flags decide; a record no longer present counts as revoked.
func (s *VaultStore) IsRevoked(ctx context.Context, record *Record) (bool, error) {
	if record.Revoked || !record.Enabled {
		return true, nil
	}

	records, err := s.FindByPrefix(ctx, record.Prefix)
	if err != nil {
		return false, err
	}
	for _, cur := range records {
		if cur.ID == record.ID {
			return cur.Revoked || !cur.Enabled, nil
		}
	}
	return true, nil
}

var _ Store = (*VaultStore)(nil)
