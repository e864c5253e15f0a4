package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Key identifies one cached value. Generation changes whenever log offsets
// are rewritten, which implicitly drops every entry of the old layout.
type Key struct {
	Generation uint64
	Offset     int64
}

// LRU is a byte-bounded cache for immutable value payloads.
// Returned slices must be treated as read-only.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates a cache holding at most capacity bytes of values.
func NewLRU(capacity int64) *LRU {
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the cached value for key, if present.
func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches value under key, evicting least recently used entries until it
// fits. Values larger than the whole capacity are not cached.
func (c *LRU) Set(key Key, value []byte) {
	itemSize := int64(len(value))
	if itemSize > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		c.size += itemSize - int64(len(ent.Value.(*entry).value))
		ent.Value.(*entry).value = value
	} else {
		c.items[key] = c.evictList.PushFront(&entry{key: key, value: value})
		c.size += itemSize
	}

	for c.size > c.capacity {
		oldest := c.evictList.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

// InvalidateBefore drops every entry of a generation older than gen.
func (c *LRU) InvalidateBefore(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*list.Element
	for key, element := range c.items {
		if key.Generation < gen {
			stale = append(stale, element)
		}
	}
	for _, element := range stale {
		c.removeElement(element)
	}
}

// Stats returns cumulative hit and miss counts.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the current number of cached bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) removeElement(element *list.Element) {
	c.evictList.Remove(element)
	ent := element.Value.(*entry)
	delete(c.items, ent.key)
	c.size -= int64(len(ent.value))
}
