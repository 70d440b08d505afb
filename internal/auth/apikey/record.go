package apikey

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is a stored API key. Salt and Hash are standard base64.
type Record struct {
	ID        string            `yaml:"id" json:"id"`
	Prefix    string            `yaml:"apiKeyPrefix" json:"apiKeyPrefix"`
	Salt      string            `yaml:"salt" json:"salt"`
	Hash      string            `yaml:"saltedApiKeyHash" json:"saltedApiKeyHash"`
	Algorithm HashAlgorithm     `yaml:"hashAlgorithm,omitempty" json:"hashAlgorithm,omitempty"`
	Owner     string            `yaml:"owner" json:"owner"`
	Name      string            `yaml:"name,omitempty" json:"name,omitempty"`
	Scopes    []string          `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Revoked   bool              `yaml:"revoked,omitempty" json:"revoked,omitempty"`
	ExpiresAt *time.Time        `yaml:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CreatedAt time.Time         `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`
	Metadata  map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// KeyInfo is the identity behind a verified API key.
type KeyInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Owner     string            `json:"owner"`
	Prefix    string            `json:"prefix"`
	Scopes    []string          `json:"scopes,omitempty"`
	Algorithm HashAlgorithm     `json:"algorithm"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the record carries decodable hashing material.
func (r *Record) Validate() error {
	if r == nil {
		return ErrInvalidRecord
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if len(r.Prefix) != PrefixLength {
		return fmt.Errorf("%w: prefix must be %d characters", ErrInvalidRecord, PrefixLength)
	}
	if _, _, err := r.decode(); err != nil {
		return err
	}
	return nil
}

func (r *Record) decode() (salt, hash []byte, err error) {
	salt, err = base64.StdEncoding.DecodeString(r.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: salt: %v", ErrInvalidRecord, err)
	}
	if len(salt) < MinSaltLength {
		return nil, nil, fmt.Errorf("%w: salt shorter than %d bytes", ErrInvalidRecord, MinSaltLength)
	}
	hash, err = base64.StdEncoding.DecodeString(r.Hash)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: hash: %v", ErrInvalidRecord, err)
	}
	if len(hash) == 0 {
		return nil, nil, fmt.Errorf("%w: hash is empty", ErrInvalidRecord)
	}
	return salt, hash, nil
}

// IsExpired reports whether the record expired at or before now.
func (r *Record) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	if r.Scopes != nil {
		c.Scopes = append([]string(nil), r.Scopes...)
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// KeyInfo projects the record to the identity returned on success.
func (r *Record) KeyInfo() *KeyInfo {
	c := r.Clone()
	alg := c.Algorithm
	if alg == "" {
		alg = HashArgon2id
	}
	return &KeyInfo{
		ID:        c.ID,
		Name:      c.Name,
		Owner:     c.Owner,
		Prefix:    c.Prefix,
		Scopes:    c.Scopes,
		Algorithm: alg,
		ExpiresAt: c.ExpiresAt,
		Metadata:  c.Metadata,
	}
}

// IssueRequest describes a key to mint.
type IssueRequest struct {
	Owner     string
	Name      string
	Scopes    []string
	ExpiresAt *time.Time
	Metadata  map[string]string
}

// Issue mints a new raw key and the record to persist for it. The raw key
// is returned once and never stored.
func Issue(hasher Hasher, req IssueRequest) (string, *Record, error) {
	if req.Owner == "" {
		return "", nil, fmt.Errorf("owner is required")
	}

	raw, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}
	salt, err := GenerateSalt(DefaultSaltLength)
	if err != nil {
		return "", nil, err
	}
	digest, err := hasher.Hash(raw, salt)
	if err != nil {
		return "", nil, err
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Prefix:    raw[:PrefixLength],
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Hash:      base64.StdEncoding.EncodeToString(digest),
		Algorithm: hasher.Algorithm(),
		Owner:     req.Owner,
		Name:      req.Name,
		Scopes:    req.Scopes,
		Enabled:   true,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	return raw, rec, nil
}
