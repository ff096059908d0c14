package submit

import (
	"github.com/flagsink/flagsink/internal/model"
	"github.com/maypok86/otter"
)

// KnownCache is a bounded set of capture keys already confirmed persisted.
// A hit lets the processor resolve a resubmission as Duplicate without a
// storage round trip. A miss proves nothing; the store upsert stays the
// authority for the Ok/Duplicate decision.
type KnownCache struct {
	cache otter.Cache[model.CaptureKey, struct{}]
}

// NewKnownCache creates a cache bounded to maxEntries keys.
func NewKnownCache(maxEntries int) *KnownCache {
	cache, err := otter.MustBuilder[model.CaptureKey, struct{}](maxEntries).
		Cost(func(_ model.CaptureKey, _ struct{}) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("submit: failed to create known-capture cache: " + err.Error())
	}
	return &KnownCache{cache: cache}
}

// Contains reports whether the key is known to be persisted.
func (c *KnownCache) Contains(k model.CaptureKey) bool {
	if c == nil {
		return false
	}
	return c.cache.Has(k)
}

// Add marks a key as persisted.
func (c *KnownCache) Add(k model.CaptureKey) {
	if c == nil {
		return
	}
	c.cache.Set(k, struct{}{})
}

// Close releases the underlying cache resources.
func (c *KnownCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
