package jwt

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// minHMACSecret is the shortest accepted HMAC secret in bytes.
const minHMACSecret = 32

// NewStaticKeySet parses configured static keys into a jwk.Set.
func NewStaticKeySet(keys []StaticKey) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		key, err := parseStaticKey(k)
		if err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, NewKeyError(k.KeyID, "failed to add key", err)
		}
	}
	return set, nil
}

func parseStaticKey(k StaticKey) (jwk.Key, error) {
	material := []byte(k.Key)
	if k.KeyFile != "" {
		data, err := os.ReadFile(k.KeyFile)
		if err != nil {
			return nil, NewKeyError(k.KeyID, "failed to read key file", err)
		}
		material = data
	}
	material = bytes.TrimSpace(material)
	if len(material) == 0 {
		return nil, NewKeyError(k.KeyID, "empty key material", ErrInvalidKey)
	}

	var (
		key jwk.Key
		err error
	)
	switch {
	case bytes.HasPrefix(material, []byte("-----BEGIN")):
		key, err = jwk.ParseKey(material, jwk.WithPEM(true))
	case bytes.HasPrefix(material, []byte("{")):
		key, err = jwk.ParseKey(material)
	case strings.HasPrefix(k.Algorithm, "HS"):
		key, err = hmacKey(material)
	default:
		err = fmt.Errorf("%s keys must be PEM or JWK", k.Algorithm)
	}
	if err != nil {
		return nil, NewKeyError(k.KeyID, "failed to parse key", fmt.Errorf("%w: %v", ErrInvalidKey, err))
	}

	if err := key.Set(jwk.KeyIDKey, k.KeyID); err != nil {
		return nil, NewKeyError(k.KeyID, "failed to set kid", err)
	}
	if k.Algorithm != "" {
		if err := key.Set(jwk.AlgorithmKey, jwa.SignatureAlgorithm(k.Algorithm)); err != nil {
			return nil, NewKeyError(k.KeyID, "failed to set alg", err)
		}
	}
	return key, nil
}

func hmacKey(material []byte) (jwk.Key, error) {
	s := string(material)
	var (
		secret []byte
		err    error
	)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		secret, err = enc.DecodeString(s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("hmac secret is not base64: %w", err)
	}
	if len(secret) < minHMACSecret {
		return nil, fmt.Errorf("hmac secret shorter than %d bytes", minHMACSecret)
	}
	return jwk.FromRaw(secret)
}
