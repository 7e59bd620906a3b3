package lookup

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/user00265/ctydna/internal/dna"
)

type cacheKey struct {
	call string
	mode Mode
}

// cacheEntry stores misses too, so repeated unknown callsigns skip the walk.
type cacheEntry struct {
	rec dna.EntityRecord
	ok  bool
}

// Cached memoizes a Resolver for batch lookups where the same callsigns
// repeat (log files, cluster spots).
type Cached struct {
	resolver *Resolver
	cache    *lru.Cache[cacheKey, cacheEntry]
}

// NewCached wraps r with an LRU of size entries.
func NewCached(r *Resolver, size int) (*Cached, error) {
	cache, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}
	return &Cached{resolver: r, cache: cache}, nil
}

// Find behaves like Resolver.Find. Every call returns a fresh copy.
func (c *Cached) Find(callsign string, mode Mode) (*dna.EntityRecord, bool) {
	key := cacheKey{call: normalize(callsign), mode: mode}
	if e, hit := c.cache.Get(key); hit {
		if !e.ok {
			return nil, false
		}
		rec := e.rec
		return &rec, true
	}

	rec, ok := c.resolver.Find(key.call, mode)
	e := cacheEntry{ok: ok}
	if ok {
		e.rec = *rec
	}
	c.cache.Add(key, e)
	return rec, ok
}

// Len returns the number of memoized lookups.
func (c *Cached) Len() int {
	return c.cache.Len()
}
