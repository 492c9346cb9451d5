package imagegen

import (
	"sync"
	"time"
)

// CardCache holds rendered cards per plant for a short period.
type CardCache struct {
	mu      sync.Mutex
	entries map[int64]cachedCard
	ttl     time.Duration
	now     func() time.Time
}

type cachedCard struct {
	data      []byte
	expiresAt time.Time
}

func NewCardCache(ttl time.Duration) *CardCache {
	return &CardCache{
		entries: make(map[int64]cachedCard),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached card for a plant if still valid. Expired entries
// are dropped on read.
func (c *CardCache) Get(plantID int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[plantID]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, plantID)
		return nil, false
	}
	return e.data, true
}

func (c *CardCache) Set(plantID int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[plantID] = cachedCard{data: data, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops a plant's card, e.g. after its score changed.
func (c *CardCache) Invalidate(plantID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, plantID)
}
