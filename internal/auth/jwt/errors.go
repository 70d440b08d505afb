package jwt

import (
	"errors"
	"fmt"
)

// JWT signing algorithm names.
const (
	AlgRS256 = "RS256"
	AlgRS384 = "RS384"
	AlgRS512 = "RS512"
	AlgPS256 = "PS256"
	AlgPS384 = "PS384"
	AlgPS512 = "PS512"
	AlgES256 = "ES256"
	AlgES384 = "ES384"
	AlgES512 = "ES512"
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
	AlgEdDSA = "EdDSA"
	AlgNone  = "none"
)

// Sentinel errors for JWT operations.
var (
	// ErrEmptyToken indicates that the token is empty.
	ErrEmptyToken = errors.New("token is empty")

	// ErrNoToken indicates that the request carried no bearer token.
	ErrNoToken = errors.New("no bearer token found")

	// ErrTokenMalformed indicates that the token is not a compact JWS with
	// JSON header and payload.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrUnsupportedAlgorithm indicates an algorithm outside the allow list.
	ErrUnsupportedAlgorithm = errors.New("signing algorithm is not supported")

	// ErrKeyNotFound indicates that no trusted key matches the token.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrTokenInvalidSignature indicates that the signature did not verify.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrClockSkew indicates a token issued in the future beyond the allowed skew.
	ErrClockSkew = errors.New("token issued in the future")

	// ErrTokenInvalidIssuer indicates that the issuer is not trusted.
	ErrTokenInvalidIssuer = errors.New("token issuer is invalid")

	// ErrTokenInvalidAudience indicates that the audience does not match.
	ErrTokenInvalidAudience = errors.New("token audience is invalid")

	// ErrTokenMissingClaim indicates that a structurally required claim is missing.
	ErrTokenMissingClaim = errors.New("required claim is missing")

	// ErrTokenNotYetValid indicates that nbf is in the future.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrTokenInvalidClaim indicates a failed claim requirement or rule.
	ErrTokenInvalidClaim = errors.New("claim value is invalid")

	// ErrNoTrustedKeys indicates that no key snapshot has been published.
	ErrNoTrustedKeys = errors.New("no trusted keys available")

	// ErrInvalidKey indicates unusable key material.
	ErrInvalidKey = errors.New("signing key is invalid")

	// ErrJWKSFetchFailed indicates that fetching a JWKS failed.
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")
)

// ValidationError represents a JWT validation error with details.
type ValidationError struct {
	Message string
	Cause   error
	Claims  *Claims
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("jwt validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("jwt validation error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}

// NewValidationErrorWithClaims creates a new ValidationError carrying the
// decoded claims.
func NewValidationErrorWithClaims(message string, cause error, claims *Claims) *ValidationError {
	return &ValidationError{Message: message, Cause: cause, Claims: claims}
}

// KeyError represents a problem with trusted key material.
type KeyError struct {
	KeyID   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	msg := "jwt key error"
	if e.KeyID != "" {
		msg = fmt.Sprintf("jwt key error (kid=%s)", e.KeyID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error {
	return e.Cause
}

// NewKeyError creates a new KeyError.
func NewKeyError(keyID, message string, cause error) *KeyError {
	return &KeyError{KeyID: keyID, Message: message, Cause: cause}
}

// IsExpiredError reports whether err indicates token expiration.
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// Reason returns a short metric label for a verification error.
func Reason(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrEmptyToken):
		return "empty_token"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, ErrNoTrustedKeys):
		return "no_trusted_keys"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrTokenInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrClockSkew):
		return "clock_skew"
	case errors.Is(err, ErrTokenInvalidIssuer):
		return "invalid_issuer"
	case errors.Is(err, ErrTokenInvalidAudience):
		return "invalid_audience"
	case errors.Is(err, ErrTokenMissingClaim):
		return "missing_claim"
	case errors.Is(err, ErrTokenNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrTokenInvalidClaim):
		return "invalid_claim"
	default:
		return "error"
	}
}
