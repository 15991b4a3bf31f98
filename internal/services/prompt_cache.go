package services

import (
	"sync"
	"time"
)

// PromptCache deduplicates identical generation calls inside a burst of
// concurrent requests for the same user/section. It is injected into the
// generator so tests can scope and clear it; there is no package-level
// instance.
type PromptCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]promptCacheEntry
	now        func() time.Time
}

type promptCacheEntry struct {
	payload   *SectionPayload
	expiresAt time.Time
}

func NewPromptCache(ttl time.Duration, maxEntries int) *PromptCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &PromptCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]promptCacheEntry),
		now:        time.Now,
	}
}

func (c *PromptCache) Get(key string) *SectionPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry.payload
}

func (c *PromptCache) Set(key string, payload *SectionPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.entries[key] = promptCacheEntry{payload: payload, expiresAt: c.now().Add(c.ttl)}
}

func (c *PromptCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]promptCacheEntry)
}

// pruneLocked drops expired entries, then oldest-expiry entries if the cache
// is still over capacity.
func (c *PromptCache) pruneLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldestExpiry time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.expiresAt.Before(oldestExpiry) {
				oldestKey = k
				oldestExpiry = e.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
}
