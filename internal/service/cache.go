package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"
)

// CacheEntry is the latest known payload for one topic.
type CacheEntry struct {
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Cache is the single source of truth for current upstream state. One writer
// per topic (the corresponding poll loop), many readers (hub, quote engine,
// HTTP handlers). Entries live for the process lifetime.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.Topic]CacheEntry
}

// NewCache creates an empty cache. Entries appear on the first successful
// poll of each topic.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[domain.Topic]CacheEntry),
	}
}

// Set stores the latest payload for a topic and stamps the update time.
func (c *Cache) Set(topic domain.Topic, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[topic] = CacheEntry{Payload: payload, UpdatedAt: time.Now()}
}

// Get returns the entry for a topic.
func (c *Cache) Get(topic domain.Topic) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[topic]
	return entry, ok
}

// Payload returns the latest payload for a topic, nil when never populated.
func (c *Cache) Payload(topic domain.Topic) json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.entries[topic].Payload
}

// Initialized reports whether a topic has been populated at least once.
func (c *Cache) Initialized(topic domain.Topic) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.entries[topic]
	return ok
}

// AgeMS returns the entry age in milliseconds at the given time. ok is false
// when the topic has never been populated.
func (c *Cache) AgeMS(topic domain.Topic, now time.Time) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[topic]
	if !ok {
		return 0, false
	}
	return now.Sub(entry.UpdatedAt).Milliseconds(), true
}

// SnapshotPayloads returns the latest payload per populated topic. Used by
// the hub to greet late-joining subscribers with full current state.
func (c *Cache) SnapshotPayloads() map[domain.Topic]json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[domain.Topic]json.RawMessage, len(c.entries))
	for topic, entry := range c.entries {
		out[topic] = entry.Payload
	}
	return out
}

// Snapshot returns a copy of every entry.
func (c *Cache) Snapshot() map[domain.Topic]CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[domain.Topic]CacheEntry, len(c.entries))
	for topic, entry := range c.entries {
		out[topic] = entry
	}
	return out
}
