// Package contacts maps handle identifiers (phone numbers, emails) to
// display names. The store only records identifiers; callers inject a
// Resolver backed by whatever contact source is available.
package contacts

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sgildea/msgsearch/internal/phone"
)

// Resolver looks up a display name for a handle identifier. ok is false
// when no contact matches; callers fall back to the raw identifier.
type Resolver interface {
	ResolveName(identifier string) (name string, ok bool)
}

// Static resolves from a fixed identifier-to-name map, matching phone
// numbers loosely so formatting differences between the contact source
// and the message store do not break lookups.
type Static struct {
	names map[string]string
}

// NewStatic builds a resolver over a map of identifiers to names.
func NewStatic(names map[string]string) *Static {
	normalized := make(map[string]string, len(names))
	for id, name := range names {
		normalized[phone.Normalize(id)] = name
	}
	return &Static{names: normalized}
}

func (s *Static) ResolveName(identifier string) (string, bool) {
	if name, ok := s.names[phone.Normalize(identifier)]; ok {
		return name, true
	}
	for id, name := range s.names {
		if phone.Match(id, identifier) {
			return name, true
		}
	}
	return "", false
}

// Cached wraps a Resolver with an LRU cache. Lookups hit the underlying
// resolver once per identifier; negative results are cached too.
type Cached struct {
	inner Resolver
	mu    sync.Mutex
	cache *lru.Cache[string, cachedName]
}

type cachedName struct {
	name string
	ok   bool
}

const defaultCacheSize = 1024

// NewCached wraps inner with an LRU of the given size. size <= 0 uses a
// default.
func NewCached(inner Resolver, size int) *Cached {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, _ := lru.New[string, cachedName](size)
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) ResolveName(identifier string) (string, bool) {
	key := phone.Normalize(identifier)

	c.mu.Lock()
	if hit, ok := c.cache.Get(key); ok {
		c.mu.Unlock()
		return hit.name, hit.ok
	}
	c.mu.Unlock()

	name, ok := c.inner.ResolveName(identifier)

	c.mu.Lock()
	c.cache.Add(key, cachedName{name: name, ok: ok})
	c.mu.Unlock()

	return name, ok
}

// Invalidate clears all cached lookups, for when the contact source
// changes underneath the cache.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.cache.Purge()
	c.mu.Unlock()
}

// None is a Resolver that never matches; every handle falls back to its
// raw identifier.
type None struct{}

func (None) ResolveName(string) (string, bool) { return "", false }
