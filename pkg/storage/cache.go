package storage

import (
	"container/list"
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/d70-t/how-to-eurec4a/pkg/types"
)

// Cache is a size-bounded LRU map whose entries also expire after a TTL.
// It is safe for concurrent use. The series store, opened datasets and
// segmentation snapshots are all memoized through it.
type Cache[V any] struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used
}

type cached[V any] struct {
	key    string
	value  V
	stored time.Time
}

// NewCache creates a cache holding at most capacity entries. A ttl <= 0
// disables expiry.
func NewCache[V any](capacity int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *Cache[V]) stale(e *cached[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.stored) > c.ttl
}

// Get returns the value stored under key unless it has expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*cached[V])
	if c.stale(e) {
		c.drop(el)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cached[V])
		e.value, e.stored = value, c.now()
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&cached[V]{key: key, value: value, stored: c.now()})
	for c.order.Len() > c.capacity {
		c.drop(c.order.Back())
	}
}

func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.drop(el)
	}
}

// drop unlinks el; c.mu must be held.
func (c *Cache[V]) drop(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cached[V]).key)
}

// Clear empties the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.order.Init()
}

func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats counts the entries, including those expired but not yet dropped.
func (c *Cache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Size: len(c.entries), Capacity: c.capacity}
	for el := c.order.Front(); el != nil; el = el.Next() {
		if c.stale(el.Value.(*cached[V])) {
			stats.Expired++
		}
	}
	return stats
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
	Expired  int `json:"expired"`
}

// queryKey identifies a query by namespace, sorted selector and interval.
// Open interval ends are encoded apart from the zero Unix time.
func queryKey(req *types.QueryRequest) string {
	labels := make([]string, 0, len(req.Selector))
	for label := range req.Selector {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	d := xxhash.New()
	d.WriteString(req.Namespace)
	for _, label := range labels {
		d.Write([]byte{0})
		d.WriteString(label)
		d.Write([]byte{'='})
		d.WriteString(req.Selector[label])
	}
	bound := func(t time.Time) {
		d.Write([]byte{0xff})
		if t.IsZero() {
			d.WriteString("open")
			return
		}
		d.WriteString(strconv.FormatInt(t.UnixNano(), 36))
	}
	bound(req.StartTime)
	bound(req.EndTime)
	return strconv.FormatUint(d.Sum64(), 16)
}

// CachedStorage memoizes query results of a Storage. Any write drops
// every cached result.
type CachedStorage struct {
	storage Storage
	cache   *Cache[*types.QueryResult]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

func NewCachedStorage(storage Storage, cacheCapacity int, cacheTTL time.Duration) *CachedStorage {
	return &CachedStorage{
		storage: storage,
		cache:   NewCache[*types.QueryResult](cacheCapacity, cacheTTL),
	}
}

func (cs *CachedStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	cs.cache.Clear()
	return cs.storage.Write(ctx, req)
}

func (cs *CachedStorage) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	key := queryKey(req)
	if result, ok := cs.cache.Get(key); ok {
		cs.hits.Add(1)
		return result, nil
	}
	cs.misses.Add(1)

	result, err := cs.storage.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	cs.cache.Put(key, result)
	return result, nil
}

func (cs *CachedStorage) SeriesCount() int {
	return cs.storage.SeriesCount()
}

func (cs *CachedStorage) Close() error {
	return cs.storage.Close()
}

// CacheStats returns the cache statistics with the hit and miss counts.
func (cs *CachedStorage) CacheStats() (CacheStats, uint64, uint64) {
	return cs.cache.Stats(), cs.hits.Load(), cs.misses.Load()
}

// CacheHitRate returns the percentage of queries answered from the cache.
func (cs *CachedStorage) CacheHitRate() float64 {
	hits, misses := cs.hits.Load(), cs.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}
