package maproom

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/observability"
)

// CachedSource wraps a Source with in-memory LRU caches whose entries expire
// after ttl. A ttl of zero keeps entries until they are evicted.
type CachedSource struct {
	inner   domain.Source
	regions *lruCache[[]domain.AdminUnit]
	exports *lruCache[domain.ExportResult]
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a source.
func NewCachedSource(inner domain.Source, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		regions: newLRUCache[[]domain.AdminUnit](maxEntries, ttl, clock),
		exports: newLRUCache[domain.ExportResult](maxEntries, ttl, clock),
		metrics: metrics,
	}
}

func (c *CachedSource) Regions(ctx context.Context, maproom string, level int, creds domain.Credentials) ([]domain.AdminUnit, error) {
	key := fmt.Sprintf("%s|%d|%s", maproom, level, credentialKey(creds))
	if units, ok := c.regions.get(key); ok {
		c.metrics.UpstreamCache.WithLabelValues("regions", "hit").Inc()
		return slices.Clone(units), nil
	}
	c.metrics.UpstreamCache.WithLabelValues("regions", "miss").Inc()

	units, err := c.inner.Regions(ctx, maproom, level, creds)
	if err != nil {
		return nil, err
	}
	c.regions.put(key, slices.Clone(units))
	return units, nil
}

func (c *CachedSource) Export(ctx context.Context, q domain.ExportQuery) (domain.ExportResult, error) {
	key := fmt.Sprintf("%s|%s|%s", q.Maproom, q.Values().Encode(), credentialKey(q.Credentials))
	if res, ok := c.exports.get(key); ok {
		c.metrics.UpstreamCache.WithLabelValues("export", "hit").Inc()
		return cloneExport(res), nil
	}
	c.metrics.UpstreamCache.WithLabelValues("export", "miss").Inc()

	res, err := c.inner.Export(ctx, q)
	if err != nil {
		return res, err
	}
	c.exports.put(key, cloneExport(res))
	return res, nil
}

func cloneExport(r domain.ExportResult) domain.ExportResult {
	r.History = slices.Clone(r.History)
	return r
}

// lruCache is a simple thread-safe LRU cache with per-entry expiry.
type lruCache[V any] struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
	prev    *entry[V]
	next    *entry[V]
}

func newLRUCache[V any](maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &lruCache[V]{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && !c.clock.Now().Before(e.expires) {
		delete(c.entries, e.key)
		c.remove(e)
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock.Now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}

// credentialKey fingerprints the username and password so entries fetched
// with different credentials never share a key.
func credentialKey(creds domain.Credentials) string {
	if creds.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(creds.Username + "\x00" + creds.Password))
	return hex.EncodeToString(sum[:])
}
