// Package cache provides a small fixed-capacity LRU map for derived lookups
// that are cheap to keep but not free to recompute, such as program-derived
// account addresses.
package cache

import (
	"container/list"
	"sync"
)

// Cache is a fixed-capacity LRU map keyed by string. Inserting beyond
// capacity evicts the least recently used entry. Reads count as use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	lookup   map[string]*list.Element
}

type entry struct {
	key   string
	value interface{}
}

// New returns an empty cache holding at most capacity entries.
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		lookup:   make(map[string]*list.Element),
	}
}

// Put stores a value, replacing any existing value for the key and evicting
// the least recently used entry when the cache is full.
func (c *Cache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.lookup[key]; ok {
		c.order.MoveToFront(element)
		element.Value.(*entry).value = value
		return
	}

	c.lookup[key] = c.order.PushFront(&entry{key: key, value: value})

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.lookup, oldest.Value.(*entry).key)
	}
}

// Get fetches the value for a key, marking it as recently used.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.lookup[key]
	if !ok {
		return nil, false
	}

	c.order.MoveToFront(element)
	return element.Value.(*entry).value, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.lookup = make(map[string]*list.Element)
}
