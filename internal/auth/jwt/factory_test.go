package jwt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_RoundTrip(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)

	signer, err := NewSigner(k.priv, AlgES256, "k1", WithSignerClock(ClockFunc(func() time.Time { return testNow })))
	require.NoError(t, err)

	token, err := signer.SignWithOptions(context.Background(), &Claims{
		Subject: "alice",
		Extra:   map[string]interface{}{"roles": []interface{}{"admin"}},
	}, SigningOptions{
		ExpiresIn:   time.Hour,
		Issuer:      "https://issuer.example",
		Audience:    []string{"api"},
		GenerateJTI: true,
	})
	require.NoError(t, err)

	c, err := f.Verify(context.Background(), token)
	require.NoError(t, err)

	assert.True(t, c.Verified())
	assert.Equal(t, testNow, c.VerifiedAt())
	assert.Equal(t, "alice", c.Subject())
	assert.Equal(t, "https://issuer.example", c.Issuer())
	assert.Equal(t, Audience{"api"}, c.Audience())
	assert.Equal(t, testNow.Add(time.Hour), c.ExpiresAt())
	assert.Equal(t, "k1", c.KeyID())
	assert.Equal(t, AlgES256, c.Algorithm())
	assert.Equal(t, SourceRaw, c.Source())
	assert.Equal(t, token, c.Raw())
	assert.NotEmpty(t, c.Claims().JWTID)
	assert.Equal(t, []string{"admin"}, c.Claims().GetStringSliceClaim("roles"))
	assert.Equal(t, "JWT", c.Header()["typ"])

	got, ok := f.ContextFromToken(token)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Subject())

	got, err = f.VerifyFrom(context.Background(), token, "authorization")
	require.NoError(t, err)
	assert.Equal(t, "authorization", got.Source())
	got, err = f.VerifyFrom(context.Background(), token, "")
	require.NoError(t, err)
	assert.Equal(t, SourceRaw, got.Source())
}

func TestFactory_StrictExpiry(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	cfg := testConfig()
	cfg.ClockSkew = durationPtr(0)
	f := newTestFactory(t, cfg, publishKeys(t, k), testNow)

	tests := []struct {
		name    string
		claims  map[string]interface{}
		wantErr error
	}{
		{name: "exp now", claims: withClaim(validClaims(), "exp", testNow.Unix())},
		{
			name:    "exp one second ago",
			claims:  withClaim(validClaims(), "exp", testNow.Add(-time.Second).Unix()),
			wantErr: ErrTokenExpired,
		},
		{
			name:    "nbf one second ahead",
			claims:  withClaim(validClaims(), "nbf", testNow.Add(time.Second).Unix()),
			wantErr: ErrTokenNotYetValid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, tt.claims))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFactory_ClaimValidation(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)

	tests := []struct {
		name    string
		claims  map[string]interface{}
		wantErr error
	}{
		{name: "valid", claims: validClaims()},
		{
			name:   "expired within skew",
			claims: withClaim(validClaims(), "exp", testNow.Add(-DefaultClockSkew).Unix()),
		},
		{
			name:    "expired beyond skew",
			claims:  withClaim(validClaims(), "exp", testNow.Add(-DefaultClockSkew-time.Second).Unix()),
			wantErr: ErrTokenExpired,
		},
		{
			name:    "missing exp",
			claims:  withClaim(validClaims(), "exp", nil),
			wantErr: ErrTokenMissingClaim,
		},
		{
			name:   "issued in the future within skew",
			claims: withClaim(validClaims(), "iat", testNow.Add(DefaultClockSkew).Unix()),
		},
		{
			name:    "issued in the future beyond skew",
			claims:  withClaim(validClaims(), "iat", testNow.Add(DefaultClockSkew+time.Second).Unix()),
			wantErr: ErrClockSkew,
		},
		{
			name:    "untrusted issuer",
			claims:  withClaim(validClaims(), "iss", "https://evil.example"),
			wantErr: ErrTokenInvalidIssuer,
		},
		{
			name:    "audience mismatch",
			claims:  withClaim(validClaims(), "aud", []string{"other", "another"}),
			wantErr: ErrTokenInvalidAudience,
		},
		{
			name:   "audience array match",
			claims: withClaim(validClaims(), "aud", []string{"other", "api"}),
		},
		{
			name:   "audience absent and optional",
			claims: withClaim(validClaims(), "aud", nil),
		},
		{
			name:    "missing subject",
			claims:  withClaim(validClaims(), "sub", nil),
			wantErr: ErrTokenMissingClaim,
		},
		{
			name:   "not before within skew",
			claims: withClaim(validClaims(), "nbf", testNow.Add(DefaultClockSkew).Unix()),
		},
		{
			name:    "not yet valid",
			claims:  withClaim(validClaims(), "nbf", testNow.Add(time.Minute).Unix()),
			wantErr: ErrTokenNotYetValid,
		},
		{
			name:    "exp of wrong type",
			claims:  withClaim(validClaims(), "exp", "tomorrow"),
			wantErr: ErrTokenMalformed,
		},
		{
			name:    "sub of wrong type",
			claims:  withClaim(validClaims(), "sub", 42),
			wantErr: ErrTokenMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token := signClaims(t, k, AlgES256, tt.claims)
			c, err := f.Verify(context.Background(), token)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.True(t, c.Verified())
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, c)

			_, ok := f.ContextFromToken(token)
			assert.False(t, ok)
		})
	}
}

func TestFactory_ValidationOrder(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)

	// Expired and from an untrusted issuer: expiry is checked first.
	claims := withClaim(validClaims(), "exp", testNow.Add(-time.Hour).Unix())
	claims = withClaim(claims, "iss", "https://evil.example")
	_, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, claims))
	assert.ErrorIs(t, err, ErrTokenExpired)

	// A bad signature hides every claim problem.
	other := newECKey(t, "k1")
	_, err = f.Verify(context.Background(), signClaims(t, other, AlgES256, claims))
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestFactory_AllowMissing(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	cfg := testConfig()
	cfg.AllowMissingExpiry = true
	cfg.AllowMissingSubject = true
	f := newTestFactory(t, cfg, publishKeys(t, k), testNow)

	claims := withClaim(withClaim(validClaims(), "exp", nil), "sub", nil)
	c, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, claims))
	require.NoError(t, err)
	assert.True(t, c.ExpiresAt().IsZero())
}

func TestFactory_AudienceRequired(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	cfg := testConfig()
	cfg.AudienceRequired = true
	f := newTestFactory(t, cfg, publishKeys(t, k), testNow)

	_, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, withClaim(validClaims(), "aud", nil)))
	assert.ErrorIs(t, err, ErrTokenInvalidAudience)
}

func TestFactory_MultipleIssuers(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	cfg := testConfig()
	cfg.Issuers = []string{"https://second.example"}
	f := newTestFactory(t, cfg, publishKeys(t, k), testNow)

	for _, iss := range []string{"https://issuer.example", "https://second.example"} {
		_, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, withClaim(validClaims(), "iss", iss)))
		assert.NoError(t, err, iss)
	}
}

func TestFactory_Malformed(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)
	payload := segment(validClaims())

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty", token: "", wantErr: ErrEmptyToken},
		{name: "whitespace", token: "   ", wantErr: ErrEmptyToken},
		{name: "two segments", token: "a.b", wantErr: ErrTokenMalformed},
		{name: "four segments", token: "a.b.c.d", wantErr: ErrTokenMalformed},
		{name: "empty segment", token: segment(map[string]string{"alg": "ES256"}) + ".." + "c2ln", wantErr: ErrTokenMalformed},
		{name: "header not base64", token: "!!!." + payload + ".c2ln", wantErr: ErrTokenMalformed},
		{name: "header not json", token: base64.RawURLEncoding.EncodeToString([]byte("nope")) + "." + payload + ".c2ln", wantErr: ErrTokenMalformed},
		{name: "header without alg", token: segment(map[string]string{"typ": "JWT"}) + "." + payload + ".c2ln", wantErr: ErrTokenMalformed},
		{name: "kid not a string", token: segment(map[string]interface{}{"alg": "ES256", "kid": 7}) + "." + payload + ".c2ln", wantErr: ErrTokenMalformed},
		{name: "payload is an array", token: segment(map[string]string{"alg": "ES256"}) + "." + segment([]int{1}) + ".c2ln", wantErr: ErrTokenMalformed},
		{name: "signature not base64", token: segment(map[string]string{"alg": "ES256"}) + "." + payload + ".***", wantErr: ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFactory_AlgorithmNone(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)

	for _, alg := range []string{"none", "None", "NONE"} {
		token := segment(map[string]string{"alg": alg, "kid": "k1"}) + "." + segment(validClaims()) + ".c2ln"
		_, err := f.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm, alg)
	}

	cfg := testConfig()
	cfg.Algorithms = []string{AlgES256, AlgNone}
	_, err := NewFactory(cfg, NewTrustedKeys())
	assert.Error(t, err)
}

func TestFactory_AlgorithmNotAllowed(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	cfg := testConfig()
	cfg.Algorithms = []string{AlgRS256}
	f := newTestFactory(t, cfg, publishKeys(t, k), testNow)

	_, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, validClaims()))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestFactory_AlgorithmConfusion(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	cfg := testConfig()
	cfg.Algorithms = []string{AlgES256, AlgHS256}
	f := newTestFactory(t, cfg, publishKeys(t, k), testNow)

	// HS256 header against an EC key: rejected before any HMAC is tried.
	input := segment(map[string]string{"alg": AlgHS256, "kid": "k1"}) + "." + segment(validClaims())
	mac := hmac.New(sha256.New, []byte("public key material"))
	mac.Write([]byte(input))
	token := input + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	_, err := f.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestFactory_KeyLookup(t *testing.T) {
	t.Parallel()

	k1 := newECKey(t, "k1")
	k2 := newECKey(t, "k2")
	anon := newECKey(t, "")

	t.Run("unknown kid", func(t *testing.T) {
		t.Parallel()
		f := newTestFactory(t, testConfig(), publishKeys(t, k1), testNow)
		_, err := f.Verify(context.Background(), signClaims(t, k2, AlgES256, validClaims()))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("kid-less token with a single key", func(t *testing.T) {
		t.Parallel()
		f := newTestFactory(t, testConfig(), publishKeys(t, anon), testNow)
		_, err := f.Verify(context.Background(), signClaims(t, anon, AlgES256, validClaims()))
		assert.NoError(t, err)
	})

	t.Run("kid-less token with several keys", func(t *testing.T) {
		t.Parallel()
		f := newTestFactory(t, testConfig(), publishKeys(t, anon, k1), testNow)
		_, err := f.Verify(context.Background(), signClaims(t, anon, AlgES256, validClaims()))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("no snapshot published", func(t *testing.T) {
		t.Parallel()
		f := newTestFactory(t, testConfig(), NewTrustedKeys(), testNow)
		assert.False(t, f.Ready())
		_, err := f.Verify(context.Background(), signClaims(t, k1, AlgES256, validClaims()))
		assert.ErrorIs(t, err, ErrNoTrustedKeys)
	})
}

func TestFactory_TamperedToken(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)

	token := signClaims(t, k, AlgES256, validClaims())
	forged := signClaims(t, k, AlgES256, withClaim(validClaims(), "sub", "mallory"))

	// Payload of one token with the signature of another.
	a := strings.Split(token, ".")
	b := strings.Split(forged, ".")
	tampered := a[0] + "." + b[1] + "." + a[2]

	_, err := f.Verify(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrTokenInvalidSignature)
}

func TestFactory_KeyRotation(t *testing.T) {
	t.Parallel()

	oldKey := newECKey(t, "2026-01")
	newKey := newECKey(t, "2026-03")

	trusted := publishKeys(t, oldKey)
	f := newTestFactory(t, testConfig(), trusted, testNow)

	oldToken := signClaims(t, oldKey, AlgES256, validClaims())
	newToken := signClaims(t, newKey, AlgES256, validClaims())

	_, err := f.Verify(context.Background(), oldToken)
	require.NoError(t, err)
	_, err = f.Verify(context.Background(), newToken)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Overlap: both keys trusted.
	snap, err := NewKeySnapshot(keySet(t, oldKey.pub, newKey.pub))
	require.NoError(t, err)
	require.NoError(t, trusted.Publish(snap))
	_, err = f.Verify(context.Background(), oldToken)
	assert.NoError(t, err)
	_, err = f.Verify(context.Background(), newToken)
	assert.NoError(t, err)

	// Old key retired.
	snap, err = NewKeySnapshot(keySet(t, newKey.pub))
	require.NoError(t, err)
	require.NoError(t, trusted.Publish(snap))
	_, err = f.Verify(context.Background(), oldToken)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = f.Verify(context.Background(), newToken)
	assert.NoError(t, err)
}

func TestFactory_ContextFromRequest(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)
	good := signClaims(t, k, AlgES256, validClaims())
	alb := signClaims(t, k, AlgES256, withClaim(validClaims(), "sub", "alb-user"))

	t.Run("bearer", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "bearer "+good)

		c, ok := f.ContextFromRequest(r)
		require.True(t, ok)
		assert.Equal(t, "alice", c.Subject())
		assert.Equal(t, AuthorizationHeader, c.Source())
	})

	t.Run("alb header wins", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+good)
		r.Header.Set(ALBHeader, alb)

		c, ok := f.ContextFromRequest(r)
		require.True(t, ok)
		assert.Equal(t, "alb-user", c.Subject())
		assert.Equal(t, ALBHeader, c.Source())
	})

	t.Run("alb header ignored when untrusted", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		off := false
		cfg.TrustALBHeader = &off
		g := newTestFactory(t, cfg, publishKeys(t, k), testNow)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(ALBHeader, alb)
		assert.False(t, g.HasToken(r))
		_, ok := g.ContextFromRequest(r)
		assert.False(t, ok)
	})

	t.Run("absent", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

		c, ok := f.ContextFromRequest(r)
		assert.False(t, ok)
		assert.Nil(t, c)
		_, err := f.VerifyRequest(r)
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer not.a.jwt")
		_, ok := f.ContextFromRequest(r)
		assert.False(t, ok)
	})
}

func TestFactory_PaddedALBToken(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)

	token := signPadded(t, k, AlgES256, validClaims())
	require.Contains(t, token, "=")

	c, err := f.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Subject())
}

func TestFactory_RequiredClaimsAndRules(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	cfg := testConfig()
	cfg.RequiredClaims = []string{"org.id"}
	cfg.Rules = []ClaimRule{
		{Name: "verified-email", Expression: `has(claims.email_verified) && claims.email_verified == true`},
		{Name: "org", Expression: `claims.org.tier in ["gold", "silver"]`},
	}
	f := newTestFactory(t, cfg, publishKeys(t, k), testNow)

	base := withClaim(validClaims(), "email_verified", true)
	base = withClaim(base, "org", map[string]interface{}{"id": "o-1", "tier": "gold"})

	_, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, base))
	require.NoError(t, err)

	_, err = f.Verify(context.Background(), signClaims(t, k, AlgES256,
		withClaim(base, "org", map[string]interface{}{"tier": "gold"})))
	assert.ErrorIs(t, err, ErrTokenInvalidClaim)

	_, err = f.Verify(context.Background(), signClaims(t, k, AlgES256,
		withClaim(base, "email_verified", false)))
	assert.ErrorIs(t, err, ErrTokenInvalidClaim)

	_, err = f.Verify(context.Background(), signClaims(t, k, AlgES256,
		withClaim(base, "org", map[string]interface{}{"id": "o-1", "tier": "bronze"})))
	assert.ErrorIs(t, err, ErrTokenInvalidClaim)
}

func TestFactory_BadRuleFailsAtConstruction(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Rules = []ClaimRule{{Name: "broken", Expression: "claims.sub =="}}
	_, err := NewFactory(cfg, NewTrustedKeys())
	assert.Error(t, err)

	cfg.Rules = []ClaimRule{{Name: "not-bool", Expression: `"x"`}}
	_, err = NewFactory(cfg, NewTrustedKeys())
	assert.Error(t, err)
}

func TestFactory_ParseUnverified(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), NewTrustedKeys(), testNow)

	c, err := f.ParseUnverified(signClaims(t, k, AlgES256, withClaim(validClaims(), "exp", testNow.Add(-time.Hour).Unix())))
	require.NoError(t, err)
	assert.False(t, c.Verified())
	assert.True(t, c.VerifiedAt().IsZero())
	assert.Equal(t, "alice", c.Subject())
	assert.Equal(t, "k1", c.KeyID())

	_, err = f.ParseUnverified("garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestContext_Immutable(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	f := newTestFactory(t, testConfig(), publishKeys(t, k), testNow)
	claims := withClaim(validClaims(), "groups", []interface{}{"a", "b"})

	c, err := f.Verify(context.Background(), signClaims(t, k, AlgES256, claims))
	require.NoError(t, err)

	got := c.Claims()
	got.Subject = "mallory"
	got.Extra["groups"].([]interface{})[0] = "z"
	aud := c.Audience()
	aud[0] = "other"
	hdr := c.Header()
	hdr["kid"] = "forged"

	assert.Equal(t, "alice", c.Subject())
	assert.Equal(t, []string{"a", "b"}, c.Claims().GetStringSliceClaim("groups"))
	assert.Equal(t, Audience{"api"}, c.Audience())
	assert.Equal(t, "k1", c.Header()["kid"])
}

func TestFactory_Metrics(t *testing.T) {
	t.Parallel()

	k := newECKey(t, "k1")
	m := NewMetrics("test")
	f, err := NewFactory(testConfig(), publishKeys(t, k),
		WithClock(ClockFunc(func() time.Time { return testNow })),
		WithFactoryMetrics(m),
	)
	require.NoError(t, err)

	_, err = f.Verify(context.Background(), signClaims(t, k, AlgES256, validClaims()))
	require.NoError(t, err)
	_, err = f.Verify(context.Background(), signClaims(t, k, AlgES256,
		withClaim(validClaims(), "exp", testNow.Add(-time.Hour).Unix())))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationTotal.WithLabelValues("success", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validationTotal.WithLabelValues("failure", "expired")))
}

func TestNewFactory_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(nil, NewTrustedKeys())
	assert.Error(t, err)

	_, err = NewFactory(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Algorithms = []string{"XS999"}
	_, err = NewFactory(cfg, NewTrustedKeys())
	assert.Error(t, err)
}
