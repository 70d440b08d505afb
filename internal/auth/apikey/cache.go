package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Identity cache defaults.
const (
	DefaultCacheTTL  = 30 * time.Second
	DefaultCacheSize = 10000
)

type cacheEntry struct {
	record *Record
	prefix string
}

// IdentityCache remembers recently verified keys for a short time so that
// repeated requests skip the slow hash. Only successful verifications are
// cached, keyed by a digest of the raw key. Entries hold the matched record
// so that revocation can still be checked on a hit.
type IdentityCache struct {
	lru *expirable.LRU[string, cacheEntry]
}

// NewIdentityCache creates a cache bounded by size entries and ttl.
func NewIdentityCache(size int, ttl time.Duration) *IdentityCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &IdentityCache{
		lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}

func cacheKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the record cached for raw.
func (c *IdentityCache) Get(raw string) (*Record, bool) {
	e, ok := c.lru.Get(cacheKey(raw))
	if !ok {
		return nil, false
	}
	return e.record.Clone(), true
}

// Add caches a copy of rec for raw.
func (c *IdentityCache) Add(raw string, rec *Record) {
	c.lru.Add(cacheKey(raw), cacheEntry{record: rec.Clone(), prefix: rec.Prefix})
}

// Remove drops the entry for raw.
func (c *IdentityCache) Remove(raw string) {
	c.lru.Remove(cacheKey(raw))
}

// InvalidatePrefix drops every entry whose key has prefix. Use it after
// revoking or disabling a record.
func (c *IdentityCache) InvalidatePrefix(prefix string) int {
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && e.prefix == prefix {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Purge empties the cache.
func (c *IdentityCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *IdentityCache) Len() int {
	return c.lru.Len()
}
