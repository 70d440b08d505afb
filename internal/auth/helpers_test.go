package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

const testIssuer = "https://issuer.example"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubKeys is an apikey.Verifier returning a fixed outcome.
type stubKeys struct {
	info *apikey.KeyInfo
	err  error

	mu   sync.Mutex
	seen []string
}

func (s *stubKeys) Verify(_ context.Context, presented string) (*apikey.KeyInfo, error) {
	s.mu.Lock()
	s.seen = append(s.seen, presented)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

func (s *stubKeys) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// stubTokens is a TokenVerifier that always fails with err.
type stubTokens struct {
	err error

	mu      sync.Mutex
	sources []string
}

func (s *stubTokens) VerifyFrom(_ context.Context, _, source string) (*jwt.Context, error) {
	s.mu.Lock()
	s.sources = append(s.sources, source)
	s.mu.Unlock()
	return nil, s.err
}

func (s *stubTokens) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

func testKeyInfo() *apikey.KeyInfo {
	exp := testNow.Add(24 * time.Hour)
	return &apikey.KeyInfo{
		ID:        "key-1",
		Name:      "ci",
		Owner:     "team-a",
		Prefix:    "sak_0123abc_",
		Scopes:    []string{"read"},
		Algorithm: apikey.HashArgon2id,
		ExpiresAt: &exp,
		Metadata:  map[string]string{"env": "test"},
	}
}

// testAPIKey is a well formed key; stubs never hash it.
const testAPIKey = "sak_0123abc_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// tokenIssuer signs tokens accepted by the factory it returns.
type tokenIssuer struct {
	priv   *ecdsa.PrivateKey
	signer jwt.Signer
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signer, err := jwt.NewSigner(priv, jwt.AlgES256, "k1")
	require.NoError(t, err)
	return &tokenIssuer{priv: priv, signer: signer}
}

func (ti *tokenIssuer) factory(t *testing.T) *jwt.Factory {
	t.Helper()

	pub, err := jwk.FromRaw(&ti.priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "k1"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	snap, err := jwt.NewKeySnapshot(set)
	require.NoError(t, err)
	trusted := jwt.NewTrustedKeys()
	require.NoError(t, trusted.Publish(snap))

	f, err := jwt.NewFactory(&jwt.Config{Enabled: true, Issuer: testIssuer}, trusted)
	require.NoError(t, err)
	return f
}

func (ti *tokenIssuer) token(t *testing.T, claims *jwt.Claims, ttl time.Duration) string {
	t.Helper()

	token, err := ti.signer.SignWithOptions(context.Background(), claims, jwt.SigningOptions{
		ExpiresIn: ttl,
		Issuer:    testIssuer,
	})
	require.NoError(t, err)
	return token
}

func (ti *tokenIssuer) publicPEM(t *testing.T) string {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(&ti.priv.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func newTestDispatcher(t *testing.T, opts ...DispatcherOption) *Dispatcher {
	t.Helper()

	opts = append([]DispatcherOption{
		WithDispatcherClock(func() time.Time { return testNow }),
	}, opts...)
	d, err := NewDispatcher(opts...)
	require.NoError(t, err)
	return d
}
