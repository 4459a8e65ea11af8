package memcache

import (
	"container/list"
	"image"
	"sync"
)

// LRU is a byte-bounded memory cache evicting least-recently-used images.
// Get refreshes recency; Put of an existing key replaces and refreshes.
type LRU struct {
	maxSize int64

	mu   sync.Mutex
	m    map[string]*list.Element
	ll   *list.List // front = LRU, back = MRU
	size int64
}

type lruItem struct {
	key  string
	img  image.Image
	size int64
}

// NewLRU creates a cache bounded to maxSize bytes of decoded pixels.
func NewLRU(maxSize int64) *LRU {
	if maxSize <= 0 {
		maxSize = 16 << 20
	}
	return &LRU{
		maxSize: maxSize,
		m:       make(map[string]*list.Element),
		ll:      list.New(),
	}
}

func (c *LRU) Put(key string, img image.Image) bool {
	size := sizeOf(img)
	if size > c.maxSize {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		item := el.Value.(*lruItem)
		c.size -= item.size
		item.img = img
		item.size = size
		c.ll.MoveToBack(el)
	} else {
		c.m[key] = c.ll.PushBack(&lruItem{key: key, img: img, size: size})
	}
	c.size += size

	for c.size > c.maxSize {
		el := c.ll.Front()
		item := el.Value.(*lruItem)
		c.ll.Remove(el)
		delete(c.m, item.key)
		c.size -= item.size
	}
	return true
}

func (c *LRU) Get(key string) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.m[key]
	if !ok {
		return nil
	}
	c.ll.MoveToBack(el)
	return el.Value.(*lruItem).img
}

func (c *LRU) Remove(key string) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.m[key]
	if !ok {
		return nil
	}
	item := el.Value.(*lruItem)
	c.ll.Remove(el)
	delete(c.m, key)
	c.size -= item.size
	return item.img
}

func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.m))
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruItem).key)
	}
	return keys
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]*list.Element)
	c.ll.Init()
	c.size = 0
}

// Size returns the current decoded-pixel footprint in bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
