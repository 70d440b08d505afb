package apikey

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"
)

// HashAlgorithm names a key hashing algorithm.
type HashAlgorithm string

// Supported hash algorithms.
const (
	HashArgon2id HashAlgorithm = "argon2id"
	HashScrypt   HashAlgorithm = "scrypt"
)

// MinSaltLength is the minimum salt size in bytes (128 bits).
const MinSaltLength = 16

// DefaultSaltLength is the salt size used at issuance.
const DefaultSaltLength = 32

// Hasher computes a salted, slow, one-way digest of a secret.
type Hasher interface {
	Algorithm() HashAlgorithm
	Hash(secret string, salt []byte) ([]byte, error)
}

// Argon2Params tunes argon2id.
type Argon2Params struct {
	Time    uint32 `yaml:"time" json:"time"`
	Memory  uint32 `yaml:"memory" json:"memory"` // KiB
	Threads uint8  `yaml:"threads" json:"threads"`
	KeyLen  uint32 `yaml:"keyLen" json:"keyLen"`
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32}
}

// Argon2idHasher hashes with argon2id.
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher creates an argon2id hasher. Zero fields take defaults.
func NewArgon2idHasher(params Argon2Params) *Argon2idHasher {
	def := DefaultArgon2Params()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	if params.KeyLen == 0 {
		params.KeyLen = def.KeyLen
	}
	return &Argon2idHasher{params: params}
}

// Algorithm implements Hasher.
func (h *Argon2idHasher) Algorithm() HashAlgorithm { return HashArgon2id }

// Hash implements Hasher.
func (h *Argon2idHasher) Hash(secret string, salt []byte) ([]byte, error) {
	if err := ValidateHashInput(secret, salt); err != nil {
		return nil, err
	}
	p := h.params
	return argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, p.KeyLen), nil
}

// ScryptParams tunes scrypt.
type ScryptParams struct {
	N      int `yaml:"n" json:"n"`
	R      int `yaml:"r" json:"r"`
	P      int `yaml:"p" json:"p"`
	KeyLen int `yaml:"keyLen" json:"keyLen"`
}

// DefaultScryptParams returns the interactive-login parameters from the scrypt paper.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 32768, R: 8, P: 1, KeyLen: 32}
}

// ScryptHasher hashes with scrypt.
type ScryptHasher struct {
	params ScryptParams
}

// NewScryptHasher creates a scrypt hasher. Zero fields take defaults.
func NewScryptHasher(params ScryptParams) *ScryptHasher {
	def := DefaultScryptParams()
	if params.N == 0 {
		params.N = def.N
	}
	if params.R == 0 {
		params.R = def.R
	}
	if params.P == 0 {
		params.P = def.P
	}
	if params.KeyLen == 0 {
		params.KeyLen = def.KeyLen
	}
	return &ScryptHasher{params: params}
}

// Algorithm implements Hasher.
func (h *ScryptHasher) Algorithm() HashAlgorithm { return HashScrypt }

// Hash implements Hasher.
func (h *ScryptHasher) Hash(secret string, salt []byte) ([]byte, error) {
	if err := ValidateHashInput(secret, salt); err != nil {
		return nil, err
	}
	p := h.params
	return scrypt.Key([]byte(secret), salt, p.N, p.R, p.P, p.KeyLen)
}

// ValidateHashInput rejects inputs that must never be hashed.
func ValidateHashInput(secret string, salt []byte) error {
	if secret == "" {
		return ErrEmptySecret
	}
	if len(salt) < MinSaltLength {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrSaltTooShort, len(salt), MinSaltLength)
	}
	return nil
}

// ConstantTimeEqual compares two digests in time independent of their contents.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateSalt returns n bytes from crypto/rand.
func GenerateSalt(n int) ([]byte, error) {
	if n < MinSaltLength {
		return nil, fmt.Errorf("%w: requested %d bytes", ErrSaltTooShort, n)
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to read random salt: %w", err)
	}
	return salt, nil
}

// Hashers maps algorithms to hashers so records may use different algorithms.
type Hashers map[HashAlgorithm]Hasher

// NewHashers builds a registry from the given hashers.
func NewHashers(hs ...Hasher) Hashers {
	m := make(Hashers, len(hs))
	for _, h := range hs {
		m[h.Algorithm()] = h
	}
	return m
}

// DefaultHashers returns argon2id and scrypt with default parameters.
func DefaultHashers() Hashers {
	return NewHashers(
		NewArgon2idHasher(DefaultArgon2Params()),
		NewScryptHasher(DefaultScryptParams()),
	)
}

// Get returns the hasher for alg. An empty alg selects argon2id.
func (h Hashers) Get(alg HashAlgorithm) (Hasher, error) {
	if alg == "" {
		alg = HashArgon2id
	}
	hasher, ok := h[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
	}
	return hasher, nil
}
