package cache

import "sync"

// Cache is a thread-safe LRU cache holding at most limit entries. Entries
// pushed out by the limit, replaced, or purged are passed to onEvict.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*lruNode[K, V]
	order   lruList[K, V]
	limit   int
	onEvict func(K, V)

	hits      uint64
	misses    uint64
	evictions uint64
}

// Stats contains cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// New creates a cache holding at most limit entries. A limit of 0 means
// unlimited. onEvict may be nil.
func New[K comparable, V any](limit int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		items:   make(map[K]*lruNode[K, V]),
		limit:   max(limit, 0),
		onEvict: onEvict,
	}
}

// Get returns the value for key and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.MoveToFront(node)
	return node.value, true
}

// Set stores value under key. A replaced value is evicted.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		old := node.value
		node.value = value
		c.order.MoveToFront(node)
		c.evicted(key, old)
		return
	}
	c.insert(key, value)
}

// GetOrCreate returns the cached value for key or stores the result of
// create. create runs with the cache locked; on error nothing is stored.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.hits++
		c.order.MoveToFront(node)
		return node.value, nil
	}
	c.misses++
	value, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.insert(key, value)
	return value, nil
}

// Delete removes key without calling the eviction callback and returns
// the removed value.
func (c *Cache[K, V]) Delete(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.Remove(node)
	delete(c.items, key)
	return node.value, true
}

// Purge evicts every entry, oldest first.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for node := c.order.Oldest(); node != nil; node = c.order.Oldest() {
		c.order.Remove(node)
		delete(c.items, node.key)
		c.evicted(node.key, node.value)
	}
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       len(c.items),
		Capacity:  c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// insert adds a new entry and evicts the oldest ones over the limit.
// Caller must hold c.mu.
func (c *Cache[K, V]) insert(key K, value V) {
	c.items[key] = c.order.PushFront(key, value)
	for c.limit > 0 && len(c.items) > c.limit {
		oldest := c.order.Oldest()
		c.order.Remove(oldest)
		delete(c.items, oldest.key)
		c.evicted(oldest.key, oldest.value)
	}
}

func (c *Cache[K, V]) evicted(key K, value V) {
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}
