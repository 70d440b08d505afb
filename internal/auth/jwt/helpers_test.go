package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testKey struct {
	kid  string
	priv jwk.Key
	pub  jwk.Key
}

func newECKey(t *testing.T, kid string) testKey {
	t.Helper()

	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	pub, err := jwk.FromRaw(&raw.PublicKey)
	require.NoError(t, err)

	if kid != "" {
		require.NoError(t, priv.Set(jwk.KeyIDKey, kid))
		require.NoError(t, pub.Set(jwk.KeyIDKey, kid))
	}
	return testKey{kid: kid, priv: priv, pub: pub}
}

func keySet(t *testing.T, keys ...jwk.Key) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for _, k := range keys {
		require.NoError(t, set.AddKey(k))
	}
	return set
}

func publishKeys(t *testing.T, keys ...testKey) *TrustedKeys {
	t.Helper()
	pubs := make([]jwk.Key, 0, len(keys))
	for _, k := range keys {
		pubs = append(pubs, k.pub)
	}
	snap, err := NewKeySnapshot(keySet(t, pubs...))
	require.NoError(t, err)

	trusted := NewTrustedKeys()
	require.NoError(t, trusted.Publish(snap))
	return trusted
}

// signClaims signs an arbitrary payload so tests can craft claims the
// Signer would never emit.
func signClaims(t *testing.T, k testKey, alg string, claims map[string]interface{}) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.TypeKey, "JWT"))
	if k.kid != "" {
		require.NoError(t, hdrs.Set(jws.KeyIDKey, k.kid))
	}

	signed, err := jws.Sign(payload, jws.WithKey(jwa.SignatureAlgorithm(alg), k.priv, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

func validClaims() map[string]interface{} {
	return map[string]interface{}{
		"iss": "https://issuer.example",
		"sub": "alice",
		"aud": "api",
		"iat": testNow.Add(-time.Minute).Unix(),
		"exp": testNow.Add(time.Hour).Unix(),
	}
}

func withClaim(claims map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(claims)+1)
	for k, v := range claims {
		out[k] = v
	}
	if value == nil {
		delete(out, key)
	} else {
		out[key] = value
	}
	return out
}

func testConfig() *Config {
	return &Config{
		Enabled:  true,
		Issuer:   "https://issuer.example",
		Audience: []string{"api"},
	}
}

func newTestFactory(t *testing.T, cfg *Config, keys KeySource, now time.Time) *Factory {
	t.Helper()
	f, err := NewFactory(cfg, keys, WithClock(ClockFunc(func() time.Time { return now })))
	require.NoError(t, err)
	return f
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

func segment(v interface{}) string {
	data, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(data)
}

// signPadded signs claims over base64 segments that keep their padding,
// the way an AWS ALB encodes its tokens.
func signPadded(t *testing.T, k testKey, alg string, claims map[string]interface{}) string {
	t.Helper()

	header, err := json.Marshal(map[string]interface{}{"alg": alg, "kid": k.kid, "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	input := base64.URLEncoding.EncodeToString(header) + "." + base64.URLEncoding.EncodeToString(payload)

	signer, err := jws.NewSigner(jwa.SignatureAlgorithm(alg))
	require.NoError(t, err)
	var raw interface{}
	require.NoError(t, k.priv.Raw(&raw))
	sig, err := signer.Sign([]byte(input), raw)
	require.NoError(t, err)

	return input + "." + base64.URLEncoding.EncodeToString(sig)
}
