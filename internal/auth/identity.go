package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

// Identity represents an authenticated identity.
type Identity struct {
	// Subject is the unique identifier for the identity. For API keys it
	// is the record owner.
	Subject string `json:"sub"`

	// Issuer is the token issuer. Empty for API keys.
	Issuer string `json:"iss,omitempty"`

	// Audience is the intended audience for the identity.
	Audience []string `json:"aud,omitempty"`

	// AuthType is the authentication method used.
	AuthType AuthType `json:"auth_type"`

	// AuthTime is when the authentication occurred.
	AuthTime time.Time `json:"auth_time,omitempty"`

	// ExpiresAt is when the credential expires. Zero means never.
	ExpiresAt time.Time `json:"exp,omitempty"`

	// Claims contains the token claims.
	Claims map[string]interface{} `json:"claims,omitempty"`

	Roles  []string `json:"roles,omitempty"`
	Scopes []string `json:"scopes,omitempty"`

	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// KeyID is the API key record ID or the JWT kid.
	KeyID string `json:"key_id,omitempty"`

	// Metadata contains API key record metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AuthType represents the type of authentication used.
type AuthType string

// Authentication types.
const (
	AuthTypeJWT    AuthType = "jwt"
	AuthTypeAPIKey AuthType = "apikey"
)

// IsExpired reports whether the identity has expired at now.
func (i *Identity) IsExpired(now time.Time) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return now.After(i.ExpiresAt)
}

// HasRole checks if the identity has a specific role.
func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// HasScope checks if the identity has a specific scope.
func (i *Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// GetClaim returns a claim value by name.
func (i *Identity) GetClaim(name string) (interface{}, bool) {
	if i.Claims == nil {
		return nil, false
	}
	v, ok := i.Claims[name]
	return v, ok
}

// identityFromKeyInfo builds the downstream view of a verified API key.
func identityFromKeyInfo(info *apikey.KeyInfo, now time.Time) *Identity {
	id := &Identity{
		Subject:  info.Owner,
		AuthType: AuthTypeAPIKey,
		AuthTime: now,
		Scopes:   slices.Clone(info.Scopes),
		Name:     info.Name,
		KeyID:    info.ID,
	}
	if info.ExpiresAt != nil {
		id.ExpiresAt = *info.ExpiresAt
	}
	if len(info.Metadata) > 0 {
		id.Metadata = make(map[string]string, len(info.Metadata))
		for k, v := range info.Metadata {
			id.Metadata[k] = v
		}
	}
	return id
}

// identityFromJWT builds the downstream view of a verified token.
func identityFromJWT(c *jwt.Context, mapping jwt.ClaimMapping, now time.Time) *Identity {
	claims := c.Claims()
	return &Identity{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		Audience:  []string(claims.Audience),
		AuthType:  AuthTypeJWT,
		AuthTime:  now,
		ExpiresAt: c.ExpiresAt(),
		Claims:    claims.ToMap(),
		Roles:     claims.GetStringSliceClaim(mapping.Roles),
		Scopes:    claims.GetStringSliceClaim(mapping.Scopes),
		Email:     claims.GetStringClaim(mapping.Email),
		Name:      claims.GetStringClaim(mapping.Name),
		KeyID:     c.KeyID(),
	}
}

type identityContextKey struct{}

// ContextWithIdentity adds an identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

// ErrIdentityNotFound is returned when identity is not found in context.
var ErrIdentityNotFound = errors.New("identity not found in context")

// IdentityFromContextOrError extracts the identity from the context or
// returns ErrIdentityNotFound.
func IdentityFromContextOrError(ctx context.Context) (*Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}
