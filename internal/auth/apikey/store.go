package apikey

import (
	"context"
	"sync"
)

// Store is the read contract the verifier needs from key persistence.
type Store interface {
	// FindByPrefix returns every record sharing prefix, revoked ones included.
	// An unknown prefix yields an empty slice and no error.
	FindByPrefix(ctx context.Context, prefix string) ([]*Record, error)

	// IsRevoked reports whether the record is currently revoked or disabled.
	IsRevoked(ctx context.Context, record *Record) (bool, error)
}

// MemoryStore is an in-memory Store indexed by prefix.
type MemoryStore struct {
	mu       sync.RWMutex
	byPrefix map[string]map[string]*Record
	byID     map[string]*Record
}

// NewMemoryStore creates a MemoryStore holding copies of records.
func NewMemoryStore(records ...*Record) (*MemoryStore, error) {
	s := &MemoryStore{
		byPrefix: make(map[string]map[string]*Record),
		byID:     make(map[string]*Record),
	}
	for _, rec := range records {
		if err := s.Put(rec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FindByPrefix implements Store.
func (s *MemoryStore) FindByPrefix(_ context.Context, prefix string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.byPrefix[prefix]
	out := make([]*Record, 0, len(bucket))
	for _, rec := range bucket {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// IsRevoked implements Store. It consults the current record so that
// revocations made after FindByPrefix are honoured.
func (s *MemoryStore) IsRevoked(_ context.Context, record *Record) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.byID[record.ID]
	if !ok {
		return true, nil
	}
	return cur.Revoked || !cur.Enabled, nil
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[rec.ID]; ok {
		delete(s.byPrefix[old.Prefix], old.ID)
	}
	c := rec.Clone()
	s.byID[c.ID] = c
	bucket, ok := s.byPrefix[c.Prefix]
	if !ok {
		bucket = make(map[string]*Record)
		s.byPrefix[c.Prefix] = bucket
	}
	bucket[c.ID] = c
	return nil
}

// Revoke marks a record revoked and returns its prefix.
func (s *MemoryStore) Revoke(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return "", ErrRecordNotFound
	}
	rec.Revoked = true
	return rec.Prefix, nil
}

// Remove deletes a record.
func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrRecordNotFound
	}
	delete(s.byID, id)
	delete(s.byPrefix[rec.Prefix], id)
	if len(s.byPrefix[rec.Prefix]) == 0 {
		delete(s.byPrefix, rec.Prefix)
	}
	return nil
}

// Count returns the number of records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

var _ Store = (*MemoryStore)(nil)
