package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrNoCredentials, KindNoCredential},
		{jwt.ErrNoToken, KindNoCredential},
		{apikey.ErrNoAPIKeyFound, KindNoCredential},

		{apikey.ErrInvalidKey, KindInvalidKey},
		{apikey.ErrKeyRevoked, KindRevokedKey},
		{apikey.ErrKeyExpired, KindRevokedKey},
		{apikey.ErrMalformedKey, KindMalformedCredential},
		{apikey.ErrEmptyKey, KindMalformedCredential},
		{fmt.Errorf("%w: timeout", apikey.ErrStoreUnavailable), KindStoreUnavailable},

		{jwt.NewValidationError("x", jwt.ErrTokenMalformed), KindMalformedCredential},
		{jwt.ErrEmptyToken, KindMalformedCredential},
		{jwt.ErrTokenMissingClaim, KindMalformedCredential},
		{jwt.ErrTokenExpired, KindExpiredToken},
		{jwt.NewKeyError("k", "missing", jwt.ErrKeyNotFound), KindUntrustedSigner},
		{jwt.ErrTokenInvalidSignature, KindUntrustedSigner},
		{jwt.ErrUnsupportedAlgorithm, KindUntrustedSigner},
		{jwt.ErrTokenInvalidIssuer, KindUntrustedSigner},
		{jwt.ErrNoTrustedKeys, KindUntrustedSigner},
		{jwt.ErrTokenNotYetValid, KindClockSkewRejected},
		{jwt.ErrClockSkew, KindClockSkewRejected},
		{jwt.ErrTokenInvalidAudience, KindInvalidClaims},
		{jwt.ErrTokenInvalidClaim, KindInvalidClaims},

		{context.DeadlineExceeded, KindStoreUnavailable},
		{&AuthError{Kind: KindRevokedKey}, KindRevokedKey},
		{errors.New("unknown"), KindUntrustedSigner},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestAuthError(t *testing.T) {
	t.Parallel()

	err := NewAuthError(AuthTypeAPIKey, apikey.ErrKeyRevoked)
	assert.Equal(t, KindRevokedKey, err.Kind)
	assert.Equal(t, "auth error (apikey, revoked_key): api key has been revoked", err.Error())
	assert.ErrorIs(t, err, apikey.ErrKeyRevoked)
	assert.True(t, IsAuthError(fmt.Errorf("outer: %w", err)))
	assert.False(t, IsAuthError(apikey.ErrKeyRevoked))

	assert.Equal(t, KindInvalidKey, NewAuthError(AuthTypeAPIKey, errors.New("x")).Kind)
	assert.Equal(t, KindUntrustedSigner, NewAuthError(AuthTypeJWT, errors.New("x")).Kind)

	bare := &AuthError{Kind: KindNoCredential}
	assert.Equal(t, "auth error (none, no_credential)", bare.Error())
	assert.Equal(t, "none", KindNone.String())
}
