// Package cache keeps short-lived request replay state.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry remembers which job a request produced and a hash of its payload.
type Entry struct {
	JobID       string
	PayloadHash uint64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// IdempotencyCache is a bounded TTL map from idempotency keys to jobs. When
// full, the oldest entry is evicted.
type IdempotencyCache struct {
	mu         sync.Mutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewIdempotencyCache(config Config) *IdempotencyCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &IdempotencyCache{
		entries:    make(map[string]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *IdempotencyCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return Entry{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}
	return entry, true
}

// PutIfAbsent stores entry unless a live entry exists, returning whichever
// entry is current and whether it was stored.
func (c *IdempotencyCache) PutIfAbsent(key string, jobID string, payloadHash uint64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if existing, ok := c.entries[key]; ok && !now.After(existing.ExpiresAt) {
		return existing, false
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOldest(now)
	}
	entry := Entry{
		JobID:       jobID,
		PayloadHash: payloadHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}
	c.entries[key] = entry
	return entry, true
}

func (c *IdempotencyCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// BuildKey scopes a client key, typically by owner.
func BuildKey(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, strings.TrimSpace(part))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "||")))
	return hex.EncodeToString(sum[:])
}

func (c *IdempotencyCache) evictOldest(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	type pair struct {
		key   string
		value Entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CreatedAt.Before(pairs[j].value.CreatedAt)
	})
	delete(c.entries, pairs[0].key)
}
