package apikey

import "errors"

// Sentinel errors for API key verification.
var (
	// ErrEmptyKey indicates that no key was presented.
	ErrEmptyKey = errors.New("api key is empty")

	// ErrMalformedKey indicates that the key does not have the issued format.
	ErrMalformedKey = errors.New("api key is malformed")

	// ErrInvalidKey indicates that no record matched the presented key.
	ErrInvalidKey = errors.New("api key is invalid")

	// ErrKeyRevoked indicates that the matching record is revoked or disabled.
	ErrKeyRevoked = errors.New("api key has been revoked")

	// ErrKeyExpired indicates that the matching record is past its expiry.
	ErrKeyExpired = errors.New("api key has expired")

	// ErrStoreUnavailable indicates that the key store failed or timed out.
	ErrStoreUnavailable = errors.New("api key store unavailable")

	// ErrEmptySecret indicates an attempt to hash an empty secret.
	ErrEmptySecret = errors.New("secret is empty")

	// ErrSaltTooShort indicates a salt below MinSaltLength bytes.
	ErrSaltTooShort = errors.New("salt is too short")

	// ErrUnknownAlgorithm indicates a record hashed with an unsupported algorithm.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

	// ErrInvalidRecord indicates a stored record that cannot be decoded.
	ErrInvalidRecord = errors.New("invalid api key record")

	// ErrRecordNotFound indicates a store lookup by ID that found nothing.
	ErrRecordNotFound = errors.New("api key record not found")
)
