package search

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hupe1980/annex/metadata"
)

// DefaultFilterCacheSize is the number of compiled filters kept per cache.
const DefaultFilterCacheSize = 256

// FilterCache memoizes compiled filters by the canonical key of their
// expression. Compiled filters are immutable and shared between queries.
type FilterCache struct {
	schema metadata.Schema
	cache  *lru.Cache[string, *metadata.Filter]
}

// NewFilterCache creates a cache of the given size compiling against
// schema. A size <= 0 disables caching.
func NewFilterCache(size int, schema metadata.Schema) *FilterCache {
	fc := &FilterCache{schema: schema}
	if size > 0 {
		// lru.New only fails for non-positive sizes.
		fc.cache, _ = lru.New[string, *metadata.Filter](size)
	}
	return fc
}

// Compile returns the compiled form of expr. Parse errors are not cached.
func (fc *FilterCache) Compile(expr map[string]any) (*metadata.Filter, error) {
	if fc.cache == nil {
		return metadata.Compile(expr, fc.schema)
	}

	key, ok := metadata.CanonicalKey(expr)
	if ok {
		if f, hit := fc.cache.Get(key); hit {
			return f, nil
		}
	}

	f, err := metadata.Compile(expr, fc.schema)
	if err != nil {
		return nil, err
	}
	if ok {
		fc.cache.Add(key, f)
	}
	return f, nil
}

// Len returns the number of cached filters.
func (fc *FilterCache) Len() int {
	if fc.cache == nil {
		return 0
	}
	return fc.cache.Len()
}
