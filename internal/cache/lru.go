// Package cache provides sampling result caches for Kestrel.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get retrieves a value from cache. A miss or an expired entry returns nil, nil.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[c.makeKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache. A non-positive ttl keeps the entry until it is evicted.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	fullKey := c.makeKey(tenantID, key)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&cacheEntry{key: fullKey, value: value, expiresAt: expiresAt})
	c.items[fullKey] = elem

	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[c.makeKey(tenantID, key)]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetRun retrieves a cached sampling run.
func (c *LRUCache) GetRun(ctx context.Context, tenantID string, key string) (*domain.SamplingRun, error) {
	return getRun(ctx, c, tenantID, key)
}

// SetRun caches a sampling run.
func (c *LRUCache) SetRun(ctx context.Context, tenantID string, key string, run *domain.SamplingRun, ttl time.Duration) error {
	return setRun(ctx, c, tenantID, key, run, ttl)
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
