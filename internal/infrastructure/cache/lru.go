package cache

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"

	"kvcache/internal/ports"
)

var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// LRU is a fixed-capacity cache with least-recently-used eviction.
//
// A map gives O(1) lookup and a doubly-linked list keeps recency order
// (front = most recently used). Every operation, including Get, holds the same
// mutex for its full duration because Get reorders the list.
type LRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry struct {
	key   string
	value string
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Capacity  int   `json:"capacity"`
	Len       int   `json:"len"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

var _ ports.Cache = (*LRU)(nil)

func NewLRU(capacity int) (*LRU, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	return &LRU{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}, nil
}

func (c *LRU) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return "", false
	}

	c.order.MoveToFront(el)
	c.hits.Add(1)
	return el.Value.(*entry).value, true
}

// Put inserts or overwrites key. When the cache is full and key is new, the
// least recently used entry is evicted first.
func (c *LRU) Put(key string, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value})
}

// Remove is a no-op for absent keys.
func (c *LRU) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.items, key)
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) Capacity() int {
	return c.capacity
}

// Keys returns keys in MRU -> LRU order.
func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).key)
	}
	return out
}

func (c *LRU) Stats() Stats {
	return Stats{
		Capacity:  c.capacity,
		Len:       c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *LRU) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
	c.evictions.Add(1)
}
