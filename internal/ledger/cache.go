package ledger

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// RecognizedSource supplies the trusted set the cache is loaded from.
type RecognizedSource interface {
	RecognizedAuthorities() ([]Authority, error)
}

// AuthorityCache is the in-memory index of trusted authorities.
// It shadows the store; it is never the source of truth.
type AuthorityCache struct {
	mu      sync.RWMutex
	entries map[Hash]Authority
}

// NewAuthorityCache creates an empty cache.
func NewAuthorityCache() *AuthorityCache {
	return &AuthorityCache{
		entries: make(map[Hash]Authority),
	}
}

// Load replaces the cache content with the recognized authorities of src.
// The store is read before the lock is taken.
func (c *AuthorityCache) Load(src RecognizedSource) error {
	authorities, err := src.RecognizedAuthorities()
	if err != nil {
		return fmt.Errorf("load recognized authorities:\n%w", err)
	}

	entries := make(map[Hash]Authority, len(authorities))
	for _, a := range authorities {
		entries[a.Hash] = a
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	return nil
}

// Get returns a copy of the cached authority.
func (c *AuthorityCache) Get(h Hash) (Authority, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.entries[h]
	return a, ok
}

// Contains reports whether h is cached.
func (c *AuthorityCache) Contains(h Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[h]
	return ok
}

// Upsert stores a.
func (c *AuthorityCache) Upsert(a Authority) {
	c.mu.Lock()
	c.entries[a.Hash] = a
	c.mu.Unlock()
}

// Remove drops h. Absent entries are ignored.
func (c *AuthorityCache) Remove(h Hash) {
	c.mu.Lock()
	delete(c.entries, h)
	c.mu.Unlock()
}

// UpdateVersionIfPresent raises the cached version of h to version.
// Returns false if h is not cached. A lower version never replaces a higher one.
func (c *AuthorityCache) UpdateVersionIfPresent(h Hash, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.entries[h]
	if !ok {
		return false
	}

	if version > a.Version {
		a.Version = version
		c.entries[h] = a
	}

	return true
}

// Len returns the number of cached authorities.
func (c *AuthorityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// List returns all cached authorities ordered by hash.
func (c *AuthorityCache) List() []Authority {
	c.mu.RLock()
	out := make([]Authority, 0, len(c.entries))
	for _, a := range c.entries {
		out = append(out, a)
	}
	c.mu.RUnlock()

	sortAuthorities(out)
	return out
}

// sortAuthorities orders authorities by hash for stable enumeration.
func sortAuthorities(as []Authority) {
	sort.Slice(as, func(i, j int) bool {
		return bytes.Compare(as[i].Hash[:], as[j].Hash[:]) < 0
	})
}
