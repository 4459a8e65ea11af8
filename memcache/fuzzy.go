package memcache

import "image"

// Fuzzy wraps a cache so that storing an image drops other entries whose
// keys the comparator considers equal. With SameURI this keeps at most one
// decoded size per source URI in memory.
type Fuzzy struct {
	delegate Cache
	equal    func(a, b string) bool
}

// NewFuzzy wraps delegate with cross-key invalidation. A nil comparator
// defaults to SameURI.
func NewFuzzy(delegate Cache, equal func(a, b string) bool) *Fuzzy {
	if equal == nil {
		equal = SameURI
	}
	return &Fuzzy{delegate: delegate, equal: equal}
}

func (c *Fuzzy) Put(key string, img image.Image) bool {
	for _, k := range c.delegate.Keys() {
		if k != key && c.equal(key, k) {
			c.delegate.Remove(k)
		}
	}
	return c.delegate.Put(key, img)
}

func (c *Fuzzy) Get(key string) image.Image    { return c.delegate.Get(key) }
func (c *Fuzzy) Remove(key string) image.Image { return c.delegate.Remove(key) }
func (c *Fuzzy) Keys() []string                { return c.delegate.Keys() }
func (c *Fuzzy) Clear()                        { c.delegate.Clear() }
