package auth

import (
	"context"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

// Result is the outcome of authenticating one request. Exactly one of
// the API key, JWT and unauthenticated variants is populated.
type Result struct {
	identity *Identity
	keyInfo  *apikey.KeyInfo
	token    *jwt.Context
	err      *AuthError
}

// APIKeyAuthenticated is the result for a verified API key.
func APIKeyAuthenticated(identity *Identity, info *apikey.KeyInfo) Result {
	return Result{identity: identity, keyInfo: info}
}

// JWTAuthenticated is the result for a verified token.
func JWTAuthenticated(identity *Identity, token *jwt.Context) Result {
	return Result{identity: identity, token: token}
}

// Unauthenticated is the result for a rejected or absent credential.
func Unauthenticated(err *AuthError) Result {
	if err == nil {
		err = &AuthError{Kind: KindNoCredential, Cause: ErrNoCredentials}
	}
	return Result{err: err}
}

// Authenticated reports whether a credential was verified.
func (r Result) Authenticated() bool {
	return r.err == nil && r.identity != nil
}

// Method returns the scheme that produced the result. Unauthenticated
// results report the scheme that was attempted, if any.
func (r Result) Method() AuthType {
	switch {
	case r.keyInfo != nil:
		return AuthTypeAPIKey
	case r.token != nil:
		return AuthTypeJWT
	case r.err != nil:
		return r.err.Method
	}
	return ""
}

// Identity returns the authenticated identity, or nil.
func (r Result) Identity() *Identity { return r.identity }

// APIKey returns the key info of an API key result, or nil.
func (r Result) APIKey() *apikey.KeyInfo { return r.keyInfo }

// JWT returns the token context of a JWT result, or nil.
func (r Result) JWT() *jwt.Context { return r.token }

// Kind returns the failure kind, or KindNone when authenticated.
func (r Result) Kind() Kind {
	if r.err == nil {
		if r.identity == nil {
			return KindNoCredential
		}
		return KindNone
	}
	return r.err.Kind
}

// Err returns the classified failure, or nil when authenticated.
func (r Result) Err() error {
	if r.err == nil {
		if r.identity == nil {
			return &AuthError{Kind: KindNoCredential, Cause: ErrNoCredentials}
		}
		return nil
	}
	return r.err
}

type resultContextKey struct{}

// ContextWithResult stores an authenticated result and its identity.
func ContextWithResult(ctx context.Context, r Result) context.Context {
	ctx = context.WithValue(ctx, resultContextKey{}, r)
	return ContextWithIdentity(ctx, r.identity)
}

// ResultFromContext returns the result stored by the middleware.
func ResultFromContext(ctx context.Context) (Result, bool) {
	r, ok := ctx.Value(resultContextKey{}).(Result)
	return r, ok
}
