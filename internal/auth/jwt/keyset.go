package jwt

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySnapshot is an immutable set of trusted verification keys indexed by
// kid. At most one key may lack a kid.
type KeySnapshot struct {
	byKID     map[string]jwk.Key
	anonymous jwk.Key
	createdAt time.Time
}

// NewKeySnapshot merges sets into a snapshot. It fails on duplicate kids,
// more than one kid-less key, private key material, or an empty result.
// Keys marked for encryption use are skipped.
func NewKeySnapshot(sets ...jwk.Set) (*KeySnapshot, error) {
	s := &KeySnapshot{
		byKID:     make(map[string]jwk.Key),
		createdAt: time.Now(),
	}

	for _, set := range sets {
		if set == nil {
			continue
		}
		for i := 0; i < set.Len(); i++ {
			key, ok := set.Key(i)
			if !ok {
				continue
			}
			if err := s.add(key); err != nil {
				return nil, err
			}
		}
	}

	if s.Len() == 0 {
		return nil, ErrNoTrustedKeys
	}
	return s, nil
}

func (s *KeySnapshot) add(key jwk.Key) error {
	kid := key.KeyID()

	if isPrivateKey(key) {
		return NewKeyError(kid, "private key material is not accepted", ErrInvalidKey)
	}
	if key.KeyUsage() == string(jwk.ForEncryption) {
		return nil
	}

	if kid == "" {
		if s.anonymous != nil {
			return NewKeyError("", "more than one key without kid", ErrInvalidKey)
		}
		s.anonymous = key
		return nil
	}

	if _, dup := s.byKID[kid]; dup {
		return NewKeyError(kid, "duplicate kid", ErrInvalidKey)
	}
	s.byKID[kid] = key
	return nil
}

func isPrivateKey(key jwk.Key) bool {
	switch key.(type) {
	case jwk.RSAPrivateKey, jwk.ECDSAPrivateKey, jwk.OKPPrivateKey:
		return true
	default:
		return false
	}
}

// Lookup returns the key for kid. A token without kid resolves only when
// the snapshot holds exactly one key.
func (s *KeySnapshot) Lookup(kid string) (jwk.Key, error) {
	if kid == "" {
		if s.Len() != 1 {
			return nil, NewKeyError("", "token has no kid and several keys are trusted", ErrKeyNotFound)
		}
		if s.anonymous != nil {
			return s.anonymous, nil
		}
		for _, k := range s.byKID {
			return k, nil
		}
	}

	key, ok := s.byKID[kid]
	if !ok {
		return nil, NewKeyError(kid, "no trusted key", ErrKeyNotFound)
	}
	return key, nil
}

// Len returns the number of keys.
func (s *KeySnapshot) Len() int {
	n := len(s.byKID)
	if s.anonymous != nil {
		n++
	}
	return n
}

// KeyIDs returns the sorted kids. A kid-less key is not listed.
func (s *KeySnapshot) KeyIDs() []string {
	ids := make([]string, 0, len(s.byKID))
	for kid := range s.byKID {
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids
}

// CreatedAt returns when the snapshot was built.
func (s *KeySnapshot) CreatedAt() time.Time {
	return s.createdAt
}

// String implements fmt.Stringer.
func (s *KeySnapshot) String() string {
	return fmt.Sprintf("KeySnapshot(%d keys)", s.Len())
}

// KeySource provides the current trusted key snapshot.
type KeySource interface {
	// Snapshot returns the current snapshot or nil before the first publish.
	Snapshot() *KeySnapshot
}

// TrustedKeys holds the published snapshot. Publishing swaps the whole
// snapshot; a verification uses the one snapshot it loaded.
type TrustedKeys struct {
	current atomic.Pointer[KeySnapshot]
}

// NewTrustedKeys returns an empty holder.
func NewTrustedKeys() *TrustedKeys {
	return &TrustedKeys{}
}

// Publish replaces the current snapshot.
func (t *TrustedKeys) Publish(s *KeySnapshot) error {
	if s == nil {
		return ErrNoTrustedKeys
	}
	t.current.Store(s)
	return nil
}

// Snapshot implements KeySource.
func (t *TrustedKeys) Snapshot() *KeySnapshot {
	return t.current.Load()
}

// Ready reports whether a snapshot has been published.
func (t *TrustedKeys) Ready() bool {
	return t.current.Load() != nil
}

var _ KeySource = (*TrustedKeys)(nil)
