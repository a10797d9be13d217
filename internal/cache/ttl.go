// Package cache provides small bounded TTL caches with LRU eviction.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a process-local bounded map with per-entry expiry and LRU
// eviction. Safe for concurrent use.
type Cache struct {
	name    string
	maxSize int
	ttl     time.Duration

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[string]*list.Element

	now func() time.Time // test hook
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// New creates a cache holding at most maxSize entries for at most ttl each.
func New(name string, maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		name:    name,
		maxSize: maxSize,
		ttl:     ttl,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Name returns the cache's registry name.
func (c *Cache) Name() string { return c.name }

// Get returns the live value for key, if any.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(el)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return ent.value, true
}

// Set stores value under key, evicting the least recently used entry when the
// cache is full.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, value: value, expiresAt: c.now().Add(c.ttl)})
	c.items[key] = el

	if c.maxSize > 0 && c.ll.Len() > c.maxSize {
		if back := c.ll.Back(); back != nil {
			c.removeElement(back)
		}
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Purge drops every entry and returns how many were held.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.ll.Len()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	return n
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// Registry groups caches so operators can drain them all at once.
type Registry struct {
	mu     sync.Mutex
	caches []*Cache
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a cache and returns it for chaining.
func (r *Registry) Add(c *Cache) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches = append(r.caches, c)
	return c
}

// ClearAll purges every registered cache and reports per-cache entry counts.
func (r *Registry) ClearAll() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int, len(r.caches))
	for _, c := range r.caches {
		counts[c.Name()] = c.Purge()
	}
	return counts
}
