package jwt

import (
	"errors"
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultClockSkew       = 30 * time.Second
	DefaultRefreshSchedule = "@every 5m"
	DefaultFetchTimeout    = 10 * time.Second

	// ALBHeader carries a JWS set by an AWS application load balancer.
	ALBHeader = "X-Amzn-Oidc-Data"
)

// DefaultAlgorithms is the allow list used when none is configured.
var DefaultAlgorithms = []string{
	AlgRS256, AlgRS384, AlgRS512,
	AlgPS256, AlgPS384, AlgPS512,
	AlgES256, AlgES384, AlgES512,
	AlgEdDSA,
}

// Config represents JWT verification configuration.
type Config struct {
	// Enabled enables JWT verification.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Algorithms is the list of allowed signing algorithms. "none" is
	// never accepted.
	Algorithms []string `yaml:"algorithms,omitempty" json:"algorithms,omitempty"`

	// Issuer is the expected token issuer.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Issuers is a list of allowed issuers, merged with Issuer.
	Issuers []string `yaml:"issuers,omitempty" json:"issuers,omitempty"`

	// Audience lists acceptable audiences; a token must carry at least one.
	Audience []string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// AudienceRequired rejects tokens without an aud claim when Audience is set.
	AudienceRequired bool `yaml:"audienceRequired,omitempty" json:"audienceRequired,omitempty"`

	// AllowMissingExpiry accepts tokens without exp.
	AllowMissingExpiry bool `yaml:"allowMissingExpiry,omitempty" json:"allowMissingExpiry,omitempty"`

	// AllowMissingSubject accepts tokens without sub.
	AllowMissingSubject bool `yaml:"allowMissingSubject,omitempty" json:"allowMissingSubject,omitempty"`

	// ClockSkew is the tolerance applied to exp, nbf and iat. Unset means
	// DefaultClockSkew; an explicit 0 disables the tolerance.
	ClockSkew *time.Duration `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`

	// RequiredClaims must be present (dot notation reaches nested claims).
	RequiredClaims []string `yaml:"requiredClaims,omitempty" json:"requiredClaims,omitempty"`

	// Rules are CEL expressions over `claims` that must evaluate to true.
	Rules []ClaimRule `yaml:"rules,omitempty" json:"rules,omitempty"`

	// TrustALBHeader reads tokens from the X-Amzn-Oidc-Data header.
	TrustALBHeader *bool `yaml:"trustAlbHeader,omitempty" json:"trustAlbHeader,omitempty"`

	// StaticKeys configures static verification keys.
	StaticKeys []StaticKey `yaml:"staticKeys,omitempty" json:"staticKeys,omitempty"`

	// JWKS configures a remote key set.
	JWKS *JWKSConfig `yaml:"jwks,omitempty" json:"jwks,omitempty"`

	// KeysFile is a local JWKS file that is watched for changes.
	KeysFile string `yaml:"keysFile,omitempty" json:"keysFile,omitempty"`

	// ClaimMapping maps claims to identity fields.
	ClaimMapping *ClaimMapping `yaml:"claimMapping,omitempty" json:"claimMapping,omitempty"`
}

// ClaimRule is a named CEL expression.
type ClaimRule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

// ClaimMapping configures which claims feed identity fields.
type ClaimMapping struct {
	Roles  string `yaml:"roles,omitempty" json:"roles,omitempty"`
	Scopes string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	Email  string `yaml:"email,omitempty" json:"email,omitempty"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
}

// StaticKey represents a static verification key.
type StaticKey struct {
	// KeyID is the key identifier matched against the token kid.
	KeyID string `yaml:"keyId" json:"keyId"`

	// Algorithm is the signing algorithm the key is used with.
	Algorithm string `yaml:"algorithm" json:"algorithm"`

	// Key is a PEM public key, a JWK JSON document, or a base64 HMAC secret.
	Key string `yaml:"key,omitempty" json:"-"`

	// KeyFile is a path holding the same formats as Key.
	KeyFile string `yaml:"keyFile,omitempty" json:"keyFile,omitempty"`
}

// JWKSConfig configures a remote JWKS.
type JWKSConfig struct {
	URL string `yaml:"url" json:"url"`

	// RefreshSchedule is a cron spec; defaults to "@every 5m".
	RefreshSchedule string `yaml:"refreshSchedule,omitempty" json:"refreshSchedule,omitempty"`

	// Timeout bounds a single fetch.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate validates the JWT configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	for _, alg := range c.Algorithms {
		if !isValidAlgorithm(alg) {
			return fmt.Errorf("invalid algorithm: %s", alg)
		}
	}

	if !c.hasKeySource() {
		return errors.New("at least one key source must be configured (jwks, staticKeys, or keysFile)")
	}

	if c.JWKS != nil {
		if c.JWKS.URL == "" {
			return errors.New("jwks.url is required")
		}
		if c.JWKS.Timeout < 0 {
			return errors.New("jwks.timeout must be non-negative")
		}
	}

	for i, key := range c.StaticKeys {
		if err := validateStaticKey(key); err != nil {
			return fmt.Errorf("staticKeys[%d]: %w", i, err)
		}
	}

	for i, rule := range c.Rules {
		if rule.Expression == "" {
			return fmt.Errorf("rules[%d]: expression is required", i)
		}
	}

	if c.ClockSkew != nil && *c.ClockSkew < 0 {
		return errors.New("clockSkew must be non-negative")
	}
	return nil
}

func (c *Config) hasKeySource() bool {
	return c.JWKS != nil || len(c.StaticKeys) > 0 || c.KeysFile != ""
}

func validateStaticKey(key StaticKey) error {
	if key.KeyID == "" {
		return errors.New("keyId is required")
	}
	if key.Algorithm == "" {
		return errors.New("algorithm is required")
	}
	if !isValidAlgorithm(key.Algorithm) {
		return fmt.Errorf("invalid algorithm: %s", key.Algorithm)
	}
	if key.Key == "" && key.KeyFile == "" {
		return errors.New("key or keyFile is required")
	}
	return nil
}

func isValidAlgorithm(alg string) bool {
	switch alg {
	case AlgRS256, AlgRS384, AlgRS512,
		AlgPS256, AlgPS384, AlgPS512,
		AlgES256, AlgES384, AlgES512,
		AlgHS256, AlgHS384, AlgHS512,
		AlgEdDSA:
		return true
	default:
		return false
	}
}

// DefaultConfig returns a default JWT configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		ClaimMapping: &ClaimMapping{
			Roles:  "roles",
			Scopes: "scope",
			Email:  "email",
			Name:   "name",
		},
	}
}

// GetAllowedIssuers returns Issuer followed by Issuers.
func (c *Config) GetAllowedIssuers() []string {
	out := make([]string, 0, len(c.Issuers)+1)
	if c.Issuer != "" {
		out = append(out, c.Issuer)
	}
	return append(out, c.Issuers...)
}

// GetEffectiveClockSkew returns the configured skew, or the default when
// none is set.
func (c *Config) GetEffectiveClockSkew() time.Duration {
	if c.ClockSkew == nil {
		return DefaultClockSkew
	}
	return *c.ClockSkew
}

// GetEffectiveAlgorithms returns the allow list.
func (c *Config) GetEffectiveAlgorithms() []string {
	if len(c.Algorithms) > 0 {
		return c.Algorithms
	}
	return DefaultAlgorithms
}

// TrustsALBHeader reports whether the ALB header is a token source. It
// defaults to true.
func (c *Config) TrustsALBHeader() bool {
	return c.TrustALBHeader == nil || *c.TrustALBHeader
}

// GetClaimMapping returns the claim mapping with defaults filled in.
func (c *Config) GetClaimMapping() ClaimMapping {
	m := ClaimMapping{Roles: "roles", Scopes: "scope", Email: "email", Name: "name"}
	if c.ClaimMapping == nil {
		return m
	}
	if c.ClaimMapping.Roles != "" {
		m.Roles = c.ClaimMapping.Roles
	}
	if c.ClaimMapping.Scopes != "" {
		m.Scopes = c.ClaimMapping.Scopes
	}
	if c.ClaimMapping.Email != "" {
		m.Email = c.ClaimMapping.Email
	}
	if c.ClaimMapping.Name != "" {
		m.Name = c.ClaimMapping.Name
	}
	return m
}
