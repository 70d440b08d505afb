package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

var verifyTracer = otel.Tracer("avauthn/apikey")

// Verifier verifies presented API keys.
type Verifier interface {
	// Verify returns the identity for a valid key, or one of ErrEmptyKey,
	// ErrMalformedKey, ErrInvalidKey, ErrKeyRevoked, ErrKeyExpired or
	// ErrStoreUnavailable.
	Verify(ctx context.Context, presented string) (*KeyInfo, error)
}

type verifier struct {
	store   Store
	hashers Hashers
	cache   *IdentityCache
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
	decoy   []byte
}

// VerifierOption is a functional option for the verifier.
type VerifierOption func(*verifier)

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *verifier) {
		v.logger = logger
	}
}

// WithVerifierMetrics sets the metrics.
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *verifier) {
		v.metrics = m
	}
}

// WithHashers replaces the hasher registry.
func WithHashers(h Hashers) VerifierOption {
	return func(v *verifier) {
		v.hashers = h
	}
}

// WithIdentityCache enables the verified identity cache.
func WithIdentityCache(c *IdentityCache) VerifierOption {
	return func(v *verifier) {
		v.cache = c
	}
}

// WithVerifierClock sets the time source used for expiry checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *verifier) {
		v.now = now
	}
}

// NewVerifier creates a verifier over store.
func NewVerifier(store Store, opts ...VerifierOption) (Verifier, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}

	v := &verifier{
		store:  store,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	if len(v.hashers) == 0 {
		v.hashers = DefaultHashers()
	}
	if v.metrics == nil {
		v.metrics = NewMetrics("")
	}

	decoy, err := GenerateSalt(MinSaltLength)
	if err != nil {
		return nil, err
	}
	v.decoy = decoy

	return v, nil
}

// Verify implements Verifier.
func (v *verifier) Verify(ctx context.Context, presented string) (*KeyInfo, error) {
	start := time.Now()

	ctx, span := verifyTracer.Start(ctx, "apikey.verify")
	defer span.End()

	info, err := v.verify(ctx, presented, span.SetAttributes)
	if err != nil {
		reason := failureReason(err)
		span.SetStatus(codes.Error, reason)
		span.SetAttributes(attribute.String("apikey.failure", reason))
		v.metrics.RecordVerify("error", reason, time.Since(start))
		v.logger.Debug("api key rejected", observability.String("reason", reason))
		return nil, err
	}

	v.metrics.RecordVerify("success", "valid", time.Since(start))
	v.logger.Debug("api key verified",
		observability.String("key_id", info.ID),
		observability.String("owner", info.Owner),
	)
	return info, nil
}

func (v *verifier) verify(
	ctx context.Context, presented string, annotate func(...attribute.KeyValue),
) (*KeyInfo, error) {
	prefix, err := ExtractPrefix(presented)
	if err != nil {
		return nil, err
	}
	annotate(attribute.String("apikey.prefix", prefix))

	if v.cache != nil {
		if rec, ok := v.cache.Get(presented); ok {
			info, err := v.revalidate(ctx, presented, rec)
			if err == nil {
				v.metrics.RecordCacheHit()
				annotate(attribute.Bool("apikey.cache_hit", true))
			}
			return info, err
		}
		v.metrics.RecordCacheMiss()
	}

	records, err := v.store.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, storeErr(err)
	}
	v.metrics.RecordCandidates(len(records))
	annotate(attribute.Int("apikey.candidates", len(records)))

	matched := v.match(presented, prefix, records)
	if matched == nil {
		return nil, ErrInvalidKey
	}

	revoked, err := v.store.IsRevoked(ctx, matched)
	if err != nil {
		return nil, storeErr(err)
	}
	if revoked {
		return nil, ErrKeyRevoked
	}
	if matched.IsExpired(v.now()) {
		return nil, ErrKeyExpired
	}

	// A caller that gave up must not populate the cache.
	if err := ctx.Err(); err != nil {
		return nil, storeErr(err)
	}

	if v.cache != nil {
		v.cache.Add(presented, matched)
	}
	return matched.KeyInfo(), nil
}

// revalidate checks a cached record against the store's current revocation
// state and its expiry. A failure evicts the entry unless the caller's
// context is done.
func (v *verifier) revalidate(ctx context.Context, presented string, rec *Record) (*KeyInfo, error) {
	revoked, err := v.store.IsRevoked(ctx, rec)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			v.cache.Remove(presented)
		}
		return nil, storeErr(err)
	case revoked:
		v.cache.Remove(presented)
		return nil, ErrKeyRevoked
	case rec.IsExpired(v.now()):
		v.cache.Remove(presented)
		return nil, ErrKeyExpired
	}
	return rec.KeyInfo(), nil
}

// match hashes presented against every candidate and returns the first
// matching record. All candidates are evaluated regardless of where the
// match is, and an empty bucket costs one decoy hash.
func (v *verifier) match(presented, prefix string, records []*Record) *Record {
	if len(records) == 0 {
		v.hashDecoy(presented)
		return nil
	}

	var matched *Record
	for _, rec := range records {
		ok := v.compare(presented, rec) && rec.Prefix == prefix
		if ok && matched == nil {
			matched = rec
		}
	}
	return matched
}

func (v *verifier) compare(presented string, rec *Record) bool {
	salt, stored, err := rec.decode()
	if err != nil {
		v.logger.Warn("undecodable api key record",
			observability.String("id", rec.ID),
			observability.Error(err),
		)
		v.hashDecoy(presented)
		return false
	}

	hasher, err := v.hashers.Get(rec.Algorithm)
	if err != nil {
		v.logger.Warn("api key record uses unsupported algorithm",
			observability.String("id", rec.ID),
			observability.String("algorithm", string(rec.Algorithm)),
		)
		v.hashDecoy(presented)
		return false
	}

	computed, err := hasher.Hash(presented, salt)
	if err != nil {
		return false
	}
	return ConstantTimeEqual(computed, stored)
}

func (v *verifier) hashDecoy(presented string) {
	if h, err := v.hashers.Get(HashArgon2id); err == nil {
		_, _ = h.Hash(presented, v.decoy)
		return
	}
	for _, h := range v.hashers {
		_, _ = h.Hash(presented, v.decoy)
		return
	}
}

func storeErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyKey):
		return "empty_key"
	case errors.Is(err, ErrMalformedKey):
		return "malformed"
	case errors.Is(err, ErrInvalidKey):
		return "invalid"
	case errors.Is(err, ErrKeyRevoked):
		return "revoked"
	case errors.Is(err, ErrKeyExpired):
		return "expired"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

var _ Verifier = (*verifier)(nil)
