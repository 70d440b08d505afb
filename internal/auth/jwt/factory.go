package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

const (
	tracerName = "avauthn/jwt"

	// maxTokenLength bounds the compact token accepted for parsing.
	maxTokenLength = 16 << 10
)

// ContextFactory builds verified JWT contexts. Absence and every
// rejection yield (nil, false).
type ContextFactory interface {
	ContextFromRequest(r *http.Request) (*Context, bool)
	ContextFromToken(token string) (*Context, bool)
}

// Factory verifies JWTs against a KeySource.
type Factory struct {
	cfg        *Config
	keys       KeySource
	clock      Clock
	logger     observability.Logger
	metrics    *Metrics
	rules      *RuleSet
	algorithms map[string]struct{}
	issuers    []string
	skew       time.Duration
	trustALB   bool
}

// FactoryOption is a functional option for the factory.
type FactoryOption func(*Factory)

// WithFactoryLogger sets the logger.
func WithFactoryLogger(logger observability.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithFactoryMetrics sets the metrics.
func WithFactoryMetrics(m *Metrics) FactoryOption {
	return func(f *Factory) {
		f.metrics = m
	}
}

// WithClock sets the time source for temporal checks.
func WithClock(c Clock) FactoryOption {
	return func(f *Factory) {
		f.clock = c
	}
}

// NewFactory creates a factory. Rules are compiled here so a bad
// expression fails at startup.
func NewFactory(cfg *Config, keys KeySource, opts ...FactoryOption) (*Factory, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if keys == nil {
		return nil, errors.New("key source is required")
	}

	f := &Factory{
		cfg:        cfg,
		keys:       keys,
		clock:      SystemClock,
		logger:     observability.NopLogger(),
		algorithms: make(map[string]struct{}),
		issuers:    cfg.GetAllowedIssuers(),
		skew:       cfg.GetEffectiveClockSkew(),
		trustALB:   cfg.TrustsALBHeader(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = NewMetrics("")
	}

	for _, alg := range cfg.GetEffectiveAlgorithms() {
		if strings.EqualFold(alg, AlgNone) {
			return nil, fmt.Errorf("algorithm %q is never allowed", alg)
		}
		if !isValidAlgorithm(alg) {
			return nil, fmt.Errorf("invalid algorithm: %s", alg)
		}
		f.algorithms[alg] = struct{}{}
	}

	rules, err := NewRuleSet(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile claim rules: %w", err)
	}
	f.rules = rules

	return f, nil
}

// ContextFromRequest implements ContextFactory.
func (f *Factory) ContextFromRequest(r *http.Request) (*Context, bool) {
	token, source, ok := ExtractToken(r, f.trustALB)
	if !ok {
		return nil, false
	}
	c, err := f.verify(r.Context(), token, source)
	return c, err == nil
}

// ContextFromToken implements ContextFactory.
func (f *Factory) ContextFromToken(token string) (*Context, bool) {
	c, err := f.verify(context.Background(), token, SourceRaw)
	return c, err == nil
}

// Verify validates token and returns the detailed error on rejection.
func (f *Factory) Verify(ctx context.Context, token string) (*Context, error) {
	return f.verify(ctx, token, SourceRaw)
}

// VerifyFrom is Verify for a token read from source, which is recorded
// on the returned context. An empty source means SourceRaw.
func (f *Factory) VerifyFrom(ctx context.Context, token, source string) (*Context, error) {
	if source == "" {
		source = SourceRaw
	}
	return f.verify(ctx, token, source)
}

// VerifyRequest validates the token carried by r. It returns ErrNoToken
// when there is none.
func (f *Factory) VerifyRequest(r *http.Request) (*Context, error) {
	token, source, ok := ExtractToken(r, f.trustALB)
	if !ok {
		return nil, ErrNoToken
	}
	return f.verify(r.Context(), token, source)
}

// HasToken reports whether r carries a token this factory would read.
func (f *Factory) HasToken(r *http.Request) bool {
	_, _, ok := ExtractToken(r, f.trustALB)
	return ok
}

// TrustsALBHeader reports whether the ALB header is read.
func (f *Factory) TrustsALBHeader() bool {
	return f.trustALB
}

// Ready reports whether trusted keys have been published.
func (f *Factory) Ready() bool {
	return f.keys.Snapshot() != nil
}

// ParseUnverified decodes token without checking its signature or
// claims. The result reports Verified() == false.
func (f *Factory) ParseUnverified(token string) (*Context, error) {
	t, err := parseCompact(token)
	if err != nil {
		return nil, err
	}
	return t.context(SourceRaw, false, time.Time{}), nil
}

func (f *Factory) verify(ctx context.Context, token, source string) (*Context, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "jwt.verify",
		trace.WithAttributes(attribute.String("jwt.source", source)),
	)
	defer span.End()
	start := time.Now()

	c, err := f.validate(token, source)

	reason := Reason(err)
	span.SetAttributes(attribute.String("jwt.result", reason))
	if err != nil {
		f.metrics.RecordValidation("failure", reason, time.Since(start))
		span.SetStatus(codes.Error, reason)
		f.logger.WithContext(ctx).Debug("jwt rejected",
			observability.String("reason", reason),
			observability.String("source", source),
			observability.Error(err),
		)
		return nil, err
	}

	f.metrics.RecordValidation("success", reason, time.Since(start))
	span.SetAttributes(
		attribute.String("jwt.kid", c.keyID),
		attribute.String("jwt.alg", c.algorithm),
	)
	return c, nil
}

func (f *Factory) validate(token, source string) (*Context, error) {
	now := f.clock.Now()

	t, err := parseCompact(token)
	if err != nil {
		return nil, err
	}

	if _, ok := f.algorithms[t.alg]; !ok || strings.EqualFold(t.alg, AlgNone) {
		return nil, NewValidationError(fmt.Sprintf("algorithm %q is not allowed", t.alg), ErrUnsupportedAlgorithm)
	}

	snap := f.keys.Snapshot()
	if snap == nil {
		return nil, NewValidationError("no trusted key snapshot published", ErrNoTrustedKeys)
	}
	key, err := snap.Lookup(t.kid)
	if err != nil {
		return nil, NewValidationError("no trusted key for token", err)
	}
	if err := checkKeyAlgorithm(key, t.alg); err != nil {
		return nil, NewValidationError(err.Error(), ErrTokenInvalidSignature)
	}
	if err := t.verifySignature(key); err != nil {
		return nil, NewValidationError("signature verification failed", ErrTokenInvalidSignature)
	}

	if err := f.validateClaims(t.claims, now); err != nil {
		return nil, err
	}
	return t.context(source, true, now), nil
}

func (f *Factory) validateClaims(claims *Claims, now time.Time) error {
	skew := f.skew

	if claims.ExpiresAt == nil {
		if !f.cfg.AllowMissingExpiry {
			return NewValidationErrorWithClaims("token has no exp claim", ErrTokenMissingClaim, claims)
		}
	} else if now.After(claims.ExpiresAt.Add(skew)) {
		return NewValidationErrorWithClaims(
			fmt.Sprintf("token expired at %s", claims.ExpiresAt.Format(time.RFC3339)),
			ErrTokenExpired, claims)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(now.Add(skew)) {
		return NewValidationErrorWithClaims(
			fmt.Sprintf("token issued at %s", claims.IssuedAt.Format(time.RFC3339)),
			ErrClockSkew, claims)
	}

	if len(f.issuers) > 0 && !Audience(f.issuers).Contains(claims.Issuer) {
		return NewValidationErrorWithClaims(
			fmt.Sprintf("issuer %q is not trusted", claims.Issuer),
			ErrTokenInvalidIssuer, claims)
	}
	if len(f.cfg.Audience) > 0 {
		switch {
		case len(claims.Audience) == 0:
			if f.cfg.AudienceRequired {
				return NewValidationErrorWithClaims("token has no aud claim", ErrTokenInvalidAudience, claims)
			}
		case !claims.Audience.ContainsAny(f.cfg.Audience...):
			return NewValidationErrorWithClaims("audience does not match", ErrTokenInvalidAudience, claims)
		}
	}
	if claims.Subject == "" && !f.cfg.AllowMissingSubject {
		return NewValidationErrorWithClaims("token has no sub claim", ErrTokenMissingClaim, claims)
	}

	if claims.NotBefore != nil && claims.NotBefore.After(now.Add(skew)) {
		return NewValidationErrorWithClaims(
			fmt.Sprintf("token not valid before %s", claims.NotBefore.Format(time.RFC3339)),
			ErrTokenNotYetValid, claims)
	}

	for _, name := range f.cfg.RequiredClaims {
		if _, ok := claims.GetNestedClaim(name); !ok {
			return NewValidationErrorWithClaims(
				fmt.Sprintf("required claim %q is missing", name),
				ErrTokenInvalidClaim, claims)
		}
	}
	return f.rules.Evaluate(claims)
}

// checkKeyAlgorithm rejects a key whose type does not belong to alg's
// family, or whose declared alg differs.
func checkKeyAlgorithm(key jwk.Key, alg string) error {
	var want jwa.KeyType
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		want = jwa.RSA
	case strings.HasPrefix(alg, "ES"):
		want = jwa.EC
	case alg == AlgEdDSA:
		want = jwa.OKP
	case strings.HasPrefix(alg, "HS"):
		want = jwa.OctetSeq
	default:
		return fmt.Errorf("unknown algorithm %s", alg)
	}

	if key.KeyType() != want {
		return fmt.Errorf("key type %s cannot verify %s", key.KeyType(), alg)
	}
	if ka := key.Algorithm(); ka != nil && ka.String() != "" && ka.String() != alg {
		return fmt.Errorf("key is bound to %s, token uses %s", ka.String(), alg)
	}
	return nil
}

type compactToken struct {
	raw       string
	parts     []string
	header    map[string]interface{}
	claims    *Claims
	alg       string
	kid       string
	signature []byte
}

func malformed(msg string, cause error) error {
	if cause != nil {
		return NewValidationError(msg, fmt.Errorf("%w: %v", ErrTokenMalformed, cause))
	}
	return NewValidationError(msg, ErrTokenMalformed)
}

func parseCompact(token string) (*compactToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, NewValidationError("empty token", ErrEmptyToken)
	}
	if len(token) > maxTokenLength {
		return nil, malformed("token too long", nil)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, malformed(fmt.Sprintf("expected 3 segments, got %d", len(parts)), nil)
	}
	for i, p := range parts {
		if p == "" {
			return nil, malformed(fmt.Sprintf("segment %d is empty", i), nil)
		}
	}

	t := &compactToken{raw: token, parts: parts}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, malformed("header is not base64url", err)
	}
	if err := json.Unmarshal(headerBytes, &t.header); err != nil || t.header == nil {
		return nil, malformed("header is not a JSON object", err)
	}
	t.alg, _ = t.header["alg"].(string)
	if t.alg == "" {
		return nil, malformed("header has no alg", nil)
	}
	if v, present := t.header["kid"]; present {
		kid, ok := v.(string)
		if !ok {
			return nil, malformed("kid is not a string", nil)
		}
		t.kid = kid
	}

	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return nil, malformed("payload is not base64url", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil || payload == nil {
		return nil, malformed("payload is not a JSON object", err)
	}
	t.claims = ParseClaims(payload)
	if err := checkRegisteredClaims(payload, t.claims); err != nil {
		return nil, err
	}

	t.signature, err = decodeSegment(parts[2])
	if err != nil {
		return nil, malformed("signature is not base64url", err)
	}
	return t, nil
}

// decodeSegment accepts base64url with or without padding; ALB tokens
// are padded.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// checkRegisteredClaims rejects registered claims of the wrong JSON type.
func checkRegisteredClaims(payload map[string]interface{}, c *Claims) error {
	times := map[string]*time.Time{"exp": c.ExpiresAt, "nbf": c.NotBefore, "iat": c.IssuedAt}
	for name, parsed := range times {
		if _, present := payload[name]; present && parsed == nil {
			return malformed(fmt.Sprintf("%s is not a NumericDate", name), nil)
		}
	}
	for _, name := range []string{"iss", "sub", "jti"} {
		if v, present := payload[name]; present {
			if _, ok := v.(string); !ok {
				return malformed(fmt.Sprintf("%s is not a string", name), nil)
			}
		}
	}
	if v, present := payload["aud"]; present {
		switch v.(type) {
		case string, []interface{}:
		default:
			return malformed("aud is neither a string nor an array", nil)
		}
	}
	return nil
}

func (t *compactToken) verifySignature(key jwk.Key) error {
	alg := jwa.SignatureAlgorithm(t.alg)

	if !strings.Contains(t.raw, "=") {
		_, err := jws.Verify([]byte(t.raw), jws.WithKey(alg, key))
		return err
	}

	// Padded segments are signed as sent, so verify the original signing
	// input instead of letting jws re-encode it.
	verifier, err := jws.NewVerifier(alg)
	if err != nil {
		return err
	}
	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return err
	}
	return verifier.Verify([]byte(t.parts[0]+"."+t.parts[1]), t.signature, raw)
}

func (t *compactToken) context(source string, verified bool, at time.Time) *Context {
	return &Context{
		raw:        t.raw,
		header:     t.header,
		claims:     t.claims,
		keyID:      t.kid,
		algorithm:  t.alg,
		verified:   verified,
		verifiedAt: at,
		source:     source,
	}
}

var _ ContextFactory = (*Factory)(nil)
