package memcache

import (
	"container/list"
	"image"
	"sync"
)

// FIFO is a byte-bounded memory cache evicting in insertion order.
// Unlike LRU, reads do not refresh an entry's position.
type FIFO struct {
	maxSize int64

	mu   sync.Mutex
	m    map[string]*list.Element
	ll   *list.List // front = oldest
	size int64
}

// NewFIFO creates a cache bounded to maxSize bytes of decoded pixels.
func NewFIFO(maxSize int64) *FIFO {
	if maxSize <= 0 {
		maxSize = 16 << 20
	}
	return &FIFO{
		maxSize: maxSize,
		m:       make(map[string]*list.Element),
		ll:      list.New(),
	}
}

func (c *FIFO) Put(key string, img image.Image) bool {
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

func (c *FIFO) Get(key string) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		return el.Value.(*lruItem).img
	}
	return nil
}

func (c *FIFO) Remove(key string) image.Image {
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

func (c *FIFO) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.m))
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruItem).key)
	}
	return keys
}

func (c *FIFO) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]*list.Element)
	c.ll.Init()
	c.size = 0
}
