package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key format constants.
const (
	// StaticPrefix marks a string as an API key issued by this service.
	StaticPrefix = "sak_"

	checksumLength = 7
	separator      = '_'

	// PrefixLength is the number of leading characters used as the lookup prefix.
	PrefixLength = len(StaticPrefix) + checksumLength + 1

	secretBytes = 48

	// MaxKeyLength bounds presented keys to keep hashing cost predictable.
	MaxKeyLength = 512
)

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random key material: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	return StaticPrefix + checksum(secret) + string(separator) + secret, nil
}

// IsAPIKey reports whether s carries the API key static prefix. It does not
// validate the key.
func IsAPIKey(s string) bool {
	return strings.HasPrefix(s, StaticPrefix)
}

// ExtractPrefix validates the key structure and returns its lookup prefix.
func ExtractPrefix(raw string) (string, error) {
	if raw == "" {
		return "", ErrEmptyKey
	}
	if len(raw) > MaxKeyLength || len(raw) <= PrefixLength || !IsAPIKey(raw) {
		return "", ErrMalformedKey
	}
	if raw[PrefixLength-1] != separator {
		return "", ErrMalformedKey
	}

	check := raw[len(StaticPrefix) : PrefixLength-1]
	secret := raw[PrefixLength:]
	if check != checksum(secret) {
		return "", ErrMalformedKey
	}

	return raw[:PrefixLength], nil
}

func checksum(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:checksumLength]
}
