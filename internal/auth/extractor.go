package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
)

// Credentials are the raw credentials carried by a request, before any
// verification.
type Credentials struct {
	// Bearer is the token from the ALB header or an Authorization Bearer
	// value. It may hold an API key.
	Bearer string

	// BearerSource names where Bearer was read.
	BearerSource string

	// APIKey is the key from the configured API key sources.
	APIKey string
}

// Empty reports whether no credential was found.
func (c Credentials) Empty() bool {
	return c.Bearer == "" && c.APIKey == ""
}

// CredentialExtractor reads credentials from HTTP requests and gRPC
// metadata.
type CredentialExtractor struct {
	trustALB bool
	keys     apikey.Extractor
}

// NewCredentialExtractor creates an extractor. A nil keys extractor
// selects the default X-API-Key header then api_key query lookup.
func NewCredentialExtractor(trustALB bool, keys apikey.Extractor) *CredentialExtractor {
	if keys == nil {
		keys = apikey.DefaultExtractor()
	}
	return &CredentialExtractor{trustALB: trustALB, keys: keys}
}

// FromRequest extracts credentials from r.
func (e *CredentialExtractor) FromRequest(r *http.Request) Credentials {
	var c Credentials
	if token, source, ok := jwt.ExtractToken(r, e.trustALB); ok {
		c.Bearer, c.BearerSource = token, source
	}
	if key, err := e.keys.Extract(r); err == nil {
		c.APIKey = key
	}
	return c
}

// FromMetadata extracts credentials from incoming gRPC metadata. It
// reads the same keys as the HTTP path, lower cased.
func (e *CredentialExtractor) FromMetadata(ctx context.Context) Credentials {
	var c Credentials
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return c
	}

	if e.trustALB {
		if v := firstValue(md, metadataALB); v != "" {
			c.Bearer, c.BearerSource = v, metadataALB
		}
	}
	if c.Bearer == "" {
		if token, ok := jwt.BearerToken(firstValue(md, metadataAuthorization)); ok {
			c.Bearer, c.BearerSource = token, metadataAuthorization
		}
	}
	c.APIKey = firstValue(md, metadataAPIKey)
	return c
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
