package jwt

import (
	"encoding/json"
	"strings"
	"time"
)

// Claims represents JWT claims.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  Audience
	ExpiresAt *time.Time
	NotBefore *time.Time
	IssuedAt  *time.Time
	JWTID     string

	// Extra holds every non-registered claim.
	Extra map[string]interface{}
}

// Audience represents the aud claim, which may be a string or an array.
type Audience []string

// Contains reports whether the audience contains aud.
func (a Audience) Contains(aud string) bool {
	for _, v := range a {
		if v == aud {
			return true
		}
	}
	return false
}

// ContainsAny reports whether the audience contains any of auds.
func (a Audience) ContainsAny(auds ...string) bool {
	for _, aud := range auds {
		if a.Contains(aud) {
			return true
		}
	}
	return false
}

// ParseClaims builds Claims from a decoded JSON payload.
func ParseClaims(data map[string]interface{}) *Claims {
	claims := &Claims{Extra: make(map[string]interface{})}
	for key, value := range data {
		if !parseStandardClaim(claims, key, value) {
			claims.Extra[key] = value
		}
	}
	return claims
}

func parseStandardClaim(claims *Claims, key string, value interface{}) bool {
	switch key {
	case "iss":
		claims.Issuer, _ = value.(string)
	case "sub":
		claims.Subject, _ = value.(string)
	case "aud":
		claims.Audience = parseAudience(value)
	case "exp":
		claims.ExpiresAt = parseTime(value)
	case "nbf":
		claims.NotBefore = parseTime(value)
	case "iat":
		claims.IssuedAt = parseTime(value)
	case "jti":
		claims.JWTID, _ = value.(string)
	default:
		return false
	}
	return true
}

func parseAudience(value interface{}) Audience {
	switch v := value.(type) {
	case string:
		return Audience{v}
	case []string:
		return Audience(v)
	case []interface{}:
		result := make(Audience, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

// parseTime accepts NumericDate values in the shapes encoding/json produces.
func parseTime(value interface{}) *time.Time {
	var t time.Time
	switch v := value.(type) {
	case float64:
		t = time.Unix(int64(v), 0)
	case int64:
		t = time.Unix(v, 0)
	case int:
		t = time.Unix(int64(v), 0)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return nil
			}
			i = int64(f)
		}
		t = time.Unix(i, 0)
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

// GetClaim returns a claim value by name.
func (c *Claims) GetClaim(name string) (interface{}, bool) {
	switch name {
	case "iss":
		return c.Issuer, c.Issuer != ""
	case "sub":
		return c.Subject, c.Subject != ""
	case "aud":
		return []string(c.Audience), len(c.Audience) > 0
	case "exp":
		return unixOrNil(c.ExpiresAt)
	case "nbf":
		return unixOrNil(c.NotBefore)
	case "iat":
		return unixOrNil(c.IssuedAt)
	case "jti":
		return c.JWTID, c.JWTID != ""
	}

	if c.Extra != nil {
		v, ok := c.Extra[name]
		return v, ok
	}
	return nil, false
}

func unixOrNil(t *time.Time) (interface{}, bool) {
	if t == nil {
		return nil, false
	}
	return t.Unix(), true
}

// GetNestedClaim returns a claim value using dot notation.
func (c *Claims) GetNestedClaim(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	current, ok := c.GetClaim(parts[0])
	if !ok {
		return nil, false
	}

	for _, part := range parts[1:] {
		m, isMap := current.(map[string]interface{})
		if !isMap {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetStringClaim returns a claim value as a string.
func (c *Claims) GetStringClaim(name string) string {
	v, ok := c.GetNestedClaim(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetStringSliceClaim returns a claim value as a string slice. A string
// value is split on whitespace, as scope claims are.
func (c *Claims) GetStringSliceClaim(name string) []string {
	v, ok := c.GetNestedClaim(name)
	if !ok {
		return nil
	}

	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case string:
		return strings.Fields(val)
	default:
		return nil
	}
}

// ToMap converts claims to a map with NumericDate times.
func (c *Claims) ToMap() map[string]interface{} {
	result := make(map[string]interface{}, len(c.Extra)+7)

	for k, v := range c.Extra {
		result[k] = v
	}
	if c.Issuer != "" {
		result["iss"] = c.Issuer
	}
	if c.Subject != "" {
		result["sub"] = c.Subject
	}
	switch len(c.Audience) {
	case 0:
	case 1:
		result["aud"] = c.Audience[0]
	default:
		result["aud"] = []string(c.Audience)
	}
	if c.ExpiresAt != nil {
		result["exp"] = c.ExpiresAt.Unix()
	}
	if c.NotBefore != nil {
		result["nbf"] = c.NotBefore.Unix()
	}
	if c.IssuedAt != nil {
		result["iat"] = c.IssuedAt.Unix()
	}
	if c.JWTID != "" {
		result["jti"] = c.JWTID
	}
	return result
}

// Clone returns a deep copy.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	out := *c
	out.Audience = append(Audience(nil), c.Audience...)
	out.ExpiresAt = cloneTime(c.ExpiresAt)
	out.NotBefore = cloneTime(c.NotBefore)
	out.IssuedAt = cloneTime(c.IssuedAt)
	out.Extra = make(map[string]interface{}, len(c.Extra))
	for k, v := range c.Extra {
		out.Extra[k] = cloneValue(v)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}
