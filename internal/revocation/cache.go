package revocation

import (
	"container/list"
	"sync"
)

// Cache is an advisory, process-local cache of revocation lookups. Eviction
// is FIFO by insertion order, which spec.md §4.2 calls out as acceptable
// precisely because the cache is advisory — a false "not revoked" here is
// caught by the authoritative store on the next miss.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type cacheEntry struct {
	id      string
	revoked bool
}

// NewCache creates a FIFO-eviction cache holding up to capacity entries.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the cached revocation status for id, if present.
func (c *Cache) Get(id string) (revoked bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.entries[id]
	if !found {
		return false, false
	}
	return el.Value.(*cacheEntry).revoked, true
}

// Set records id's revocation status, evicting the oldest entry if the
// cache is at capacity.
func (c *Cache) Set(id string, revoked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.entries[id]; found {
		el.Value.(*cacheEntry).revoked = revoked
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).id)
		}
	}

	el := c.order.PushBack(&cacheEntry{id: id, revoked: revoked})
	c.entries[id] = el
}

// Delete removes id from the cache. The revocation service does not call it.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.entries[id]
	if !found {
		return
	}
	c.order.Remove(el)
	delete(c.entries, id)
}
