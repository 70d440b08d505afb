package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

// ErrNoCredentials indicates that the request carried no credential.
var ErrNoCredentials = errors.New("no credentials provided")

// ErrNoVerifier indicates a credential for a scheme that is not enabled.
var ErrNoVerifier = errors.New("credential scheme is not enabled")

// Kind classifies why authentication failed. Kinds never reach clients;
// they label logs, metrics and spans.
type Kind string

// Failure kinds.
const (
	KindNone                Kind = ""
	KindInvalidKey          Kind = "invalid_key"
	KindRevokedKey          Kind = "revoked_key"
	KindMalformedCredential Kind = "malformed_credential"
	KindExpiredToken        Kind = "expired_token"
	KindUntrustedSigner     Kind = "untrusted_signer"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindClockSkewRejected   Kind = "clock_skew_rejected"
	KindInvalidClaims       Kind = "invalid_claims"
	KindNoCredential        Kind = "no_credential"
)

// String returns the kind label.
func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// Classify maps an error from the apikey or jwt packages to a Kind.
// Unrecognised errors are UntrustedSigner; NewAuthError narrows them to
// InvalidKey on the API key path.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Kind != KindNone {
		return authErr.Kind
	}

	switch {
	case errors.Is(err, ErrNoCredentials), errors.Is(err, jwt.ErrNoToken),
		errors.Is(err, apikey.ErrNoAPIKeyFound):
		return KindNoCredential

	case errors.Is(err, apikey.ErrInvalidKey):
		return KindInvalidKey
	case errors.Is(err, apikey.ErrKeyRevoked), errors.Is(err, apikey.ErrKeyExpired):
		return KindRevokedKey
	case errors.Is(err, apikey.ErrMalformedKey), errors.Is(err, apikey.ErrEmptyKey):
		return KindMalformedCredential
	case errors.Is(err, apikey.ErrStoreUnavailable):
		return KindStoreUnavailable

	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrEmptyToken),
		errors.Is(err, jwt.ErrTokenMissingClaim):
		return KindMalformedCredential
	case errors.Is(err, jwt.ErrTokenExpired):
		return KindExpiredToken
	case errors.Is(err, jwt.ErrKeyNotFound), errors.Is(err, jwt.ErrTokenInvalidSignature),
		errors.Is(err, jwt.ErrUnsupportedAlgorithm), errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrNoTrustedKeys):
		return KindUntrustedSigner
	case errors.Is(err, jwt.ErrTokenNotYetValid), errors.Is(err, jwt.ErrClockSkew):
		return KindClockSkewRejected
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidClaim):
		return KindInvalidClaims

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindStoreUnavailable
	}

	return KindUntrustedSigner
}

// AuthError is a classified authentication failure.
type AuthError struct {
	Kind   Kind
	Method AuthType
	Cause  error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	method := string(e.Method)
	if method == "" {
		method = "none"
	}
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s, %s): %v", method, e.Kind, e.Cause)
	}
	return fmt.Sprintf("auth error (%s, %s)", method, e.Kind)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// NewAuthError classifies cause for method.
func NewAuthError(method AuthType, cause error) *AuthError {
	kind := Classify(cause)
	if kind == KindUntrustedSigner && method == AuthTypeAPIKey {
		kind = KindInvalidKey
	}
	return &AuthError{Kind: kind, Method: method, Cause: cause}
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
