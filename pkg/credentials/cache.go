package credentials

import (
	"sync"
	"time"
)

// Cache holds at most one bearer credential and the instant it stops being
// valid. Expiry is evaluated lazily against the clock on every Get.
// Cache is safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	value  string
	expiry time.Time
	ok     bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now as the cache's time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache returns an empty Cache whose entries live for ttl.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value while now is before its expiry.
func (c *Cache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ok || !c.now().Before(c.expiry) {
		return "", false
	}
	return c.value, true
}

// Set stores value, overwriting any previous entry, valid for the cache TTL.
func (c *Cache) Set(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = value
	c.expiry = c.now().Add(c.ttl)
	c.ok = true
}

// SetUntil stores value valid until the earlier of the cache TTL and until.
// A zero until behaves like Set.
func (c *Cache) SetUntil(value string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry := c.now().Add(c.ttl)
	if !until.IsZero() && until.Before(expiry) {
		expiry = until
	}

	c.value = value
	c.expiry = expiry
	c.ok = true
}

// Delete drops the cached entry.
func (c *Cache) Delete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = ""
	c.expiry = time.Time{}
	c.ok = false
}

// Expiry returns when the current entry expires. It reports false when the
// cache holds no live entry.
func (c *Cache) Expiry() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ok || !c.now().Before(c.expiry) {
		return time.Time{}, false
	}
	return c.expiry, true
}
