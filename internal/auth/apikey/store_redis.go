package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

const (
	storeTracerName        = "avauthn/apikey/store"
	defaultRedisKeyPrefix  = "avauthn:"
	redisPrefixKeyTemplate = "%sapikey:prefix:%s"
	redisRevokedKeySuffix  = "apikey:revoked"
)

// RedisStore keeps records in Redis. Each prefix is a hash of record ID to
// record JSON, and revoked IDs live in a set.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    observability.Logger
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisKeyPrefix sets the namespace prepended to every Redis key.
func WithRedisKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: defaultRedisKeyPrefix,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRedisStore connects to the Redis URL and pings it.
func OpenRedisStore(ctx context.Context, cfg *RedisConfig, opts ...RedisStoreOption) (*RedisStore, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	ropts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		ropts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		ropts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStore(client, append([]RedisStoreOption{WithRedisKeyPrefix(cfg.KeyPrefix)}, opts...)...), nil
}

func (s *RedisStore) prefixKey(prefix string) string {
	return fmt.Sprintf(redisPrefixKeyTemplate, s.keyPrefix, prefix)
}

func (s *RedisStore) revokedKey() string {
	return s.keyPrefix + redisRevokedKeySuffix
}

// FindByPrefix implements Store.
func (s *RedisStore) FindByPrefix(ctx context.Context, prefix string) ([]*Record, error) {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "apikey.store.find",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.backend", "redis"),
			attribute.String("apikey.prefix", prefix),
		),
	)
	defer span.End()

	fields, err := s.client.HGetAll(ctx, s.prefixKey(prefix)).Result()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("redis lookup failed: %w", err)
	}

	records := make([]*Record, 0, len(fields))
	for id, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping undecodable api key record",
				observability.String("id", id),
				observability.String("prefix", prefix),
				observability.Error(err),
			)
			continue
		}
		records = append(records, &rec)
	}

	span.SetAttributes(attribute.Int("apikey.candidates", len(records)))
	return records, nil
}

// IsRevoked implements Store. The record is re-read from its prefix hash
// so that flags changed after lookup, or a deleted record, are honoured.
func (s *RedisStore) IsRevoked(ctx context.Context, record *Record) (bool, error) {
	if record.Revoked || !record.Enabled {
		return true, nil
	}

	pipe := s.client.Pipeline()
	member := pipe.SIsMember(ctx, s.revokedKey(), record.ID)
	current := pipe.HGet(ctx, s.prefixKey(record.Prefix), record.ID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis revocation check failed: %w", err)
	}

	if member.Val() {
		return true, nil
	}
	raw, err := current.Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis revocation check failed: %w", err)
	}

	var cur Record
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		return false, fmt.Errorf("failed to decode record %s: %w", record.ID, err)
	}
	return cur.Revoked || !cur.Enabled, nil
}

// Put stores a record under its prefix.
func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.client.HSet(ctx, s.prefixKey(rec.Prefix), rec.ID, data).Err()
}

// Revoke adds the record ID to the revocation set.
func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	return s.client.SAdd(ctx, s.revokedKey(), id).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
