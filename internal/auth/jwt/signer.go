package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Signer signs JWT tokens.
type Signer interface {
	// Sign creates a signed JWT token.
	Sign(ctx context.Context, claims *Claims) (string, error)

	// SignWithOptions creates a signed JWT token with custom options.
	SignWithOptions(ctx context.Context, claims *Claims, opts SigningOptions) (string, error)
}

// SigningOptions contains options for token signing.
type SigningOptions struct {
	// ExpiresIn sets exp relative to now when claims carry none.
	ExpiresIn time.Duration

	// NotBefore sets nbf when claims carry none.
	NotBefore time.Time

	// Issuer sets iss when claims carry none.
	Issuer string

	// Audience sets aud when claims carry none.
	Audience []string

	// GenerateJTI generates a unique token ID.
	GenerateJTI bool

	// OmitKeyID leaves kid out of the header.
	OmitKeyID bool
}

type signer struct {
	key       jwk.Key
	algorithm jwa.SignatureAlgorithm
	keyID     string
	clock     Clock
	logger    observability.Logger
	metrics   *Metrics
}

// SignerOption is a functional option for the signer.
type SignerOption func(*signer)

// WithSignerLogger sets the logger.
func WithSignerLogger(logger observability.Logger) SignerOption {
	return func(s *signer) {
		s.logger = logger
	}
}

// WithSignerMetrics sets the metrics.
func WithSignerMetrics(m *Metrics) SignerOption {
	return func(s *signer) {
		s.metrics = m
	}
}

// WithSignerClock sets the clock used for iat and relative exp.
func WithSignerClock(c Clock) SignerOption {
	return func(s *signer) {
		s.clock = c
	}
}

// NewSigner creates a signer. key is a private key or an HMAC secret
// in jwk form; raw crypto keys are converted.
func NewSigner(key interface{}, algorithm, keyID string, opts ...SignerOption) (Signer, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if !isValidAlgorithm(algorithm) {
		return nil, fmt.Errorf("invalid algorithm: %s", algorithm)
	}

	jkey, ok := key.(jwk.Key)
	if !ok {
		var err error
		jkey, err = jwk.FromRaw(key)
		if err != nil {
			return nil, NewKeyError(keyID, "unsupported signing key", err)
		}
	}
	if err := checkKeyAlgorithm(jkey, algorithm); err != nil {
		return nil, NewKeyError(keyID, err.Error(), ErrInvalidKey)
	}

	s := &signer{
		key:       jkey,
		algorithm: jwa.SignatureAlgorithm(algorithm),
		keyID:     keyID,
		clock:     SystemClock,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign signs claims with a generated jti.
func (s *signer) Sign(ctx context.Context, claims *Claims) (string, error) {
	return s.SignWithOptions(ctx, claims, SigningOptions{GenerateJTI: true})
}

// SignWithOptions signs a copy of claims with defaults from opts applied.
func (s *signer) SignWithOptions(_ context.Context, claims *Claims, opts SigningOptions) (string, error) {
	if claims == nil {
		claims = &Claims{}
	}
	claims = claims.Clone()
	s.prepareClaims(claims, opts)

	token, err := s.sign(claims, opts)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSigning("error", s.algorithm.String())
		}
		return "", err
	}

	if s.metrics != nil {
		s.metrics.RecordSigning("success", s.algorithm.String())
	}
	s.logger.Debug("JWT signed",
		observability.String("subject", claims.Subject),
		observability.String("algorithm", s.algorithm.String()),
	)
	return token, nil
}

func (s *signer) prepareClaims(claims *Claims, opts SigningOptions) {
	now := s.clock.Now().UTC().Truncate(time.Second)

	if claims.IssuedAt == nil {
		claims.IssuedAt = &now
	}
	if opts.ExpiresIn > 0 && claims.ExpiresAt == nil {
		exp := now.Add(opts.ExpiresIn)
		claims.ExpiresAt = &exp
	}
	if !opts.NotBefore.IsZero() && claims.NotBefore == nil {
		nbf := opts.NotBefore
		claims.NotBefore = &nbf
	}
	if claims.Issuer == "" {
		claims.Issuer = opts.Issuer
	}
	if len(claims.Audience) == 0 && len(opts.Audience) > 0 {
		claims.Audience = append(Audience(nil), opts.Audience...)
	}
	if opts.GenerateJTI && claims.JWTID == "" {
		claims.JWTID = uuid.New().String()
	}
}

func (s *signer) sign(claims *Claims, opts SigningOptions) (string, error) {
	payload, err := json.Marshal(claims.ToMap())
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}

	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		return "", err
	}
	if s.keyID != "" && !opts.OmitKeyID {
		if err := hdrs.Set(jws.KeyIDKey, s.keyID); err != nil {
			return "", err
		}
	}

	signed, err := jws.Sign(payload, jws.WithKey(s.algorithm, s.key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// ParsePrivateKey parses a PEM or JWK private key for signing.
func ParsePrivateKey(data []byte) (jwk.Key, error) {
	key, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		key, err = jwk.ParseKey(data)
	}
	if err != nil {
		return nil, NewKeyError("", "failed to parse private key", fmt.Errorf("%w: %v", ErrInvalidKey, err))
	}
	if !isPrivateKey(key) {
		return nil, NewKeyError(key.KeyID(), "not a private key", ErrInvalidKey)
	}
	return key, nil
}
