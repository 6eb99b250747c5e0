package reactiveq

import (
	"log"
	"sync"
)

// Cache is a process-wide mapping from query fingerprint to Facade. There
// is no eviction contract: QueryValues constructed through a Cache are
// retained for the life of the process, matching spec.md §3.
type Cache struct {
	mu          sync.Mutex
	data        map[string]*Facade
	derivedFrom map[string][]string
}

// NewCache creates an empty query cache.
func NewCache() *Cache {
	return &Cache{
		data:        make(map[string]*Facade),
		derivedFrom: make(map[string][]string),
	}
}

var defaultCache = NewCache()

// Create constructs or reuses a cached QueryValue for query against
// runner, using the package-wide default cache. See Cache.Create.
func Create(query any, runner Runner, opts ...Option) (*Facade, error) {
	return defaultCache.Create(query, runner, opts...)
}

// Create looks query up by its fingerprint; on a hit (and when
// WithDisableCache was not given) it returns the cached facade, never
// invoking runner. On a miss it constructs a new QueryValue, starts its
// columns and length fetches, and stores the resulting facade unless
// WithDisableCache was given.
func (c *Cache) Create(query any, runner Runner, opts ...Option) (*Facade, error) {
	cfg := &Options{}
	for _, opt := range opts {
		opt(cfg)
	}

	var originalText string
	var builder Builder
	switch v := query.(type) {
	case string:
		originalText = v
		builder = wrapRawText(v)
	case Builder:
		originalText = v.String()
		builder = v
	default:
		return nil, &ConstructionError{Got: query}
	}

	hash := Fingerprint(originalText)

	if !cfg.disableCache {
		c.mu.Lock()
		existing, ok := c.data[hash]
		c.mu.Unlock()
		if ok {
			return existing, nil
		}
	}

	qv := buildQueryValue(originalText, builder, runner, c, opts...)
	facade := &Facade{queryValue: qv}
	qv.facade = facade

	if !cfg.disableCache {
		c.mu.Lock()
		c.data[hash] = facade
		c.mu.Unlock()
	}

	return facade, nil
}

// ExportDerivationGraph returns the edges recorded by Where/Limit/Offset/
// Paginate: parent query hash to the hashes of queries derived from it.
// Used by extensions.GraphDebugHandler and independently useful for
// diagnostics and tests.
func (c *Cache) ExportDerivationGraph() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]string, len(c.derivedFrom))
	for k, v := range c.derivedFrom {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func (c *Cache) recordDerivation(parentHash, childHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.derivedFrom[parentHash] = append(c.derivedFrom[parentHash], childHash)
}

var directConstructionWarned sync.Once

// NewDirect constructs a QueryValue bypassing any shared cache entirely —
// every call produces a fresh, uncached facade. Direct construction is
// discouraged (spec.md §4.7); prefer Create or Cache.Create. The first
// call in a process logs a warning.
func NewDirect(query any, runner Runner, opts ...Option) (*Facade, error) {
	directConstructionWarned.Do(func() {
		log.Println("reactiveq: direct construction via NewDirect bypasses the cache; prefer Create")
	})

	cache := NewCache()
	opts = append(opts, WithDisableCache())
	return cache.Create(query, runner, opts...)
}
