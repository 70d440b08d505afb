package jwt

import "time"

// SourceRaw marks a context built from a token passed directly rather
// than read from a request header.
const SourceRaw = "raw"

// Context is the immutable result of reading a JWT. Accessors return
// copies.
type Context struct {
	raw        string
	header     map[string]interface{}
	claims     *Claims
	keyID      string
	algorithm  string
	verified   bool
	verifiedAt time.Time
	source     string
}

// Raw returns the compact token.
func (c *Context) Raw() string { return c.raw }

// Header returns a copy of the protected header.
func (c *Context) Header() map[string]interface{} {
	out := make(map[string]interface{}, len(c.header))
	for k, v := range c.header {
		out[k] = cloneValue(v)
	}
	return out
}

// Claims returns a copy of the claims.
func (c *Context) Claims() *Claims { return c.claims.Clone() }

// Subject returns the sub claim.
func (c *Context) Subject() string { return c.claims.Subject }

// Issuer returns the iss claim.
func (c *Context) Issuer() string { return c.claims.Issuer }

// Audience returns a copy of the aud claim.
func (c *Context) Audience() Audience {
	if c.claims.Audience == nil {
		return nil
	}
	return append(Audience(nil), c.claims.Audience...)
}

// ExpiresAt returns the exp claim, or the zero time when absent.
func (c *Context) ExpiresAt() time.Time {
	if c.claims.ExpiresAt == nil {
		return time.Time{}
	}
	return *c.claims.ExpiresAt
}

// KeyID returns the kid header.
func (c *Context) KeyID() string { return c.keyID }

// Algorithm returns the alg header.
func (c *Context) Algorithm() string { return c.algorithm }

// Verified reports whether the signature and claims were checked.
func (c *Context) Verified() bool { return c.verified }

// VerifiedAt returns the verification time, or the zero time for an
// unverified context.
func (c *Context) VerifiedAt() time.Time { return c.verifiedAt }

// Source returns the header the token came from, or SourceRaw.
func (c *Context) Source() string { return c.source }
