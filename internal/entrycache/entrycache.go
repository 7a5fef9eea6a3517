// Package entrycache implements the bounded, per-log cache of recently
// read entry payloads keyed by position (spec component C). It fails
// open: a miss is never an error, callers fall back to the log view.
package entrycache

import (
	"container/list"
	"sync"

	"go.uber.org/atomic"

	"github.com/lipandr/cursorlog/internal/metrics"
	"github.com/lipandr/cursorlog/internal/position"
)

// Entry is a payload checked out of the cache. Per spec §5, the cache
// and the checkout's owner share ownership of Payload for as long as
// the reference is outstanding: Release must be called exactly once
// when the owner no longer needs Payload. While any checkout on an
// entry is outstanding, the cache will not evict it even if it is
// otherwise the least recently used.
type Entry struct {
	Position position.Position
	Payload  []byte

	node *node
}

// Release drops this checkout's reference. A nil Entry is a safe
// no-op, so call sites that may or may not have gone through the cache
// can release unconditionally.
func (e *Entry) Release() {
	if e == nil {
		return
	}
	e.node.refs.Dec()
}

type node struct {
	pos     position.Position
	payload []byte
	refs    atomic.Int32
}

// Cache is an LRU cache bounded by total payload bytes. A Cache with
// MaxBytes == 0 is permanently empty and Get always misses; this is how
// a log disables the cache (MaxCacheSize config option).
type Cache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes atomic.Int64
	ll       *list.List
	index    map[position.Position]*list.Element
	logName  string
}

// New creates a cache bounded to maxBytes of payload data. maxBytes <= 0
// disables caching entirely.
func New(logName string, maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		ll:       list.New(),
		index:    make(map[position.Position]*list.Element),
		logName:  logName,
	}
}

// Enabled reports whether the cache accepts insertions.
func (c *Cache) Enabled() bool {
	return c.maxBytes > 0
}

// Get checks out the cached payload at p, bumping its recency and
// taking a reference that pins it against eviction, or reports a miss.
// The returned Entry's Release must be called when the caller is done
// with Payload.
func (c *Cache) Get(p position.Position) (*Entry, bool) {
	if !c.Enabled() {
		metrics.CacheMisses.WithLabelValues(c.logName).Inc()
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[p]
	if !ok {
		metrics.CacheMisses.WithLabelValues(c.logName).Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	n := el.Value.(*node)
	n.refs.Inc()
	metrics.CacheHits.WithLabelValues(c.logName).Inc()
	return &Entry{Position: p, Payload: n.payload, node: n}, true
}

// Put inserts or refreshes the payload at p, checking out a reference
// on the caller's behalf, then evicts least-recently-used unreferenced
// entries until the cache is within its byte budget. Returns nil if the
// cache is disabled or payload exceeds the whole budget.
func (c *Cache) Put(p position.Position, payload []byte) *Entry {
	if !c.Enabled() || int64(len(payload)) > c.maxBytes {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var n *node
	if el, ok := c.index[p]; ok {
		n = el.Value.(*node)
		c.curBytes.Sub(int64(len(n.payload)))
		n.payload = payload
		c.ll.MoveToFront(el)
	} else {
		n = &node{pos: p, payload: payload}
		c.index[p] = c.ll.PushFront(n)
	}
	n.refs.Inc()
	c.curBytes.Add(int64(len(payload)))
	metrics.CacheSizeBytes.WithLabelValues(c.logName).Set(float64(c.curBytes.Load()))

	c.evictOverBudgetLocked()
	metrics.CacheSizeBytes.WithLabelValues(c.logName).Set(float64(c.curBytes.Load()))
	return &Entry{Position: p, Payload: payload, node: n}
}

// evictOverBudgetLocked walks back-to-front from the least recently
// used entry, removing unreferenced ones until the cache is within
// budget. An entry with an outstanding checkout is skipped rather than
// evicted: the cache fails open by running over budget instead of
// pulling Payload out from under a caller that still holds it.
func (c *Cache) evictOverBudgetLocked() {
	for el := c.ll.Back(); el != nil && c.curBytes.Load() > c.maxBytes; {
		prev := el.Prev()
		n := el.Value.(*node)
		if n.refs.Load() == 0 {
			c.ll.Remove(el)
			delete(c.index, n.pos)
			c.curBytes.Sub(int64(len(n.payload)))
		}
		el = prev
	}
}

// Invalidate drops p from the cache, if present and unreferenced.
func (c *Cache) Invalidate(p position.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[p]
	if !ok {
		return
	}
	n := el.Value.(*node)
	if n.refs.Load() != 0 {
		return
	}
	c.ll.Remove(el)
	delete(c.index, n.pos)
	c.curBytes.Sub(int64(len(n.payload)))
}

// Len returns the number of cached entries, mostly for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
