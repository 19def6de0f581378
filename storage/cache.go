package storage

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/metrics"
)

// ValueCache is the read-side property cache: an LRU keyed by a packed
// xxhash of the entity identity rather than a page id, since a single
// page may back many property values. Same intrusive doubly-linked-list
// shape as pageCache in lru.go, keyed over the (nodeID, propKeyID) /
// (src, etype, dst, propKeyID) space.
//
// Invalidation is coarse and whole-cache on every commit that touches a
// tracked key family; proving per-key invalidation correct is
// unnecessary when Clear is cheap relative to commit's WAL fsync.
type ValueCache struct {
	mu       sync.Mutex
	capacity int
	items    map[uint64]*valueCacheNode
	head     *valueCacheNode
	tail     *valueCacheNode

	hits   uint64
	misses uint64
}

type valueCacheNode struct {
	key   uint64
	value graph.PropValue
	prev  *valueCacheNode
	next  *valueCacheNode
}

// NewValueCache creates a property-value cache holding up to capacity
// entries; traversal results live in the separate TraversalCache.
func NewValueCache(capacity int) *ValueCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ValueCache{
		capacity: capacity,
		items:    make(map[uint64]*valueCacheNode, capacity),
	}
}

// NodePropKey packs a (NodeID, PropKeyID) pair into a single cache key.
func NodePropKey(node graph.NodeID, key graph.PropKeyID) uint64 {
	var buf [12]byte
	putLE64(buf[0:8], uint64(node))
	putLE32(buf[8:12], uint32(key))
	return xxhash.Sum64(buf[:])
}

// EdgePropKey packs a (src, etype, dst, PropKeyID) tuple into a cache key.
func EdgePropKey(src graph.NodeID, etype graph.ETypeID, dst graph.NodeID, key graph.PropKeyID) uint64 {
	var buf [28]byte
	putLE64(buf[0:8], uint64(src))
	putLE32(buf[8:12], uint32(etype))
	putLE64(buf[12:20], uint64(dst))
	putLE32(buf[20:24], uint32(key))
	return xxhash.Sum64(buf[:24])
}

// TraversalKey packs a (NodeID, ETypeID, direction) triple for caching
// adjacency lookups; dirOut distinguishes outgoing from incoming scans.
func TraversalKey(node graph.NodeID, etype graph.ETypeID, dirOut bool) uint64 {
	var buf [13]byte
	putLE64(buf[0:8], uint64(node))
	putLE32(buf[8:12], uint32(etype))
	if dirOut {
		buf[12] = 1
	}
	return xxhash.Sum64(buf[:])
}

// Get returns the cached value for key, if present.
func (c *ValueCache) Get(key uint64) (graph.PropValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.items[key]
	if !ok {
		c.misses++
		metrics.CacheMisses.Inc()
		return graph.PropValue{}, false
	}
	c.hits++
	metrics.CacheHits.Inc()
	c.moveToFront(node)
	return node.value, true
}

// Put inserts or refreshes a cached value.
func (c *ValueCache) Put(key uint64, value graph.PropValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if node, ok := c.items[key]; ok {
		node.value = value
		c.moveToFront(node)
		return
	}
	node := &valueCacheNode{key: key, value: value}
	c.items[key] = node
	c.pushFront(node)
	if len(c.items) > c.capacity {
		c.evict()
	}
}

// Clear empties the cache. Called on every commit that touches a tracked
// key family, and whenever a compaction finishes (generation boundary).
func (c *ValueCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[uint64]*valueCacheNode, c.capacity)
	c.head = nil
	c.tail = nil
}

// Stats returns hit/miss counters for metrics/inspect.
func (c *ValueCache) Stats() (hits, misses uint64, size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items), c.capacity
}

func (c *ValueCache) pushFront(node *valueCacheNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *ValueCache) removeNode(node *valueCacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

func (c *ValueCache) moveToFront(node *valueCacheNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.pushFront(node)
}

func (c *ValueCache) evict() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.removeNode(victim)
	delete(c.items, victim.key)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// TraversalCache is the adjacency-scan sibling of ValueCache: same
// intrusive-list LRU, but entries hold a neighbor id slice instead of a
// property value. Kept as a second concrete type rather than folding both
// into one interface-valued cache; the two hot paths stay monomorphic and
// the stored slice is shared read-only with callers (entries are replaced
// wholesale on invalidation, never mutated).
type TraversalCache struct {
	mu       sync.Mutex
	capacity int
	items    map[uint64]*traversalCacheNode
	head     *traversalCacheNode
	tail     *traversalCacheNode

	hits   uint64
	misses uint64
}

type traversalCacheNode struct {
	key       uint64
	neighbors []graph.NodeID
	prev      *traversalCacheNode
	next      *traversalCacheNode
}

// NewTraversalCache creates an adjacency cache holding up to capacity
// scan results.
func NewTraversalCache(capacity int) *TraversalCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &TraversalCache{
		capacity: capacity,
		items:    make(map[uint64]*traversalCacheNode, capacity),
	}
}

// Get returns the cached neighbor list for key, if present. Callers must
// not mutate the returned slice.
func (c *TraversalCache) Get(key uint64) ([]graph.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.items[key]
	if !ok {
		c.misses++
		metrics.CacheMisses.Inc()
		return nil, false
	}
	c.hits++
	metrics.CacheHits.Inc()
	c.moveToFront(node)
	return node.neighbors, true
}

// Put inserts or refreshes a cached neighbor list.
func (c *TraversalCache) Put(key uint64, neighbors []graph.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if node, ok := c.items[key]; ok {
		node.neighbors = neighbors
		c.moveToFront(node)
		return
	}
	node := &traversalCacheNode{key: key, neighbors: neighbors}
	c.items[key] = node
	c.pushFront(node)
	if len(c.items) > c.capacity {
		c.evict()
	}
}

// Clear empties the cache; called on the same commit/compaction
// boundaries as ValueCache.Clear.
func (c *TraversalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[uint64]*traversalCacheNode, c.capacity)
	c.head = nil
	c.tail = nil
}

// Stats returns hit/miss counters for metrics/inspect.
func (c *TraversalCache) Stats() (hits, misses uint64, size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items), c.capacity
}

func (c *TraversalCache) pushFront(node *traversalCacheNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *TraversalCache) removeNode(node *traversalCacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

func (c *TraversalCache) moveToFront(node *traversalCacheNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.pushFront(node)
}

func (c *TraversalCache) evict() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.removeNode(victim)
	delete(c.items, victim.key)
}
