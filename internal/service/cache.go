package service

import (
	"sync"
	"time"

	"github.com/comicden/recotrack/internal/domain/model"
)

// ProgressCache is the in-process map of last-known events per session.
// It is the freshest and cheapest status tier, and the only mandatory write
// target on the ingestion path. Entries are ephemeral: lost on restart and
// evicted by the sweeper once aged out.
//
// The cache is guarded by an RWMutex and safe for concurrent use under the
// single-writer-per-session contract.
type ProgressCache struct {
	mu      sync.RWMutex
	entries map[string]progressCacheEntry
}

type progressCacheEntry struct {
	event    model.ProgressEvent
	storedAt time.Time
}

// NewProgressCache creates an empty ProgressCache.
func NewProgressCache() *ProgressCache {
	return &ProgressCache{
		entries: make(map[string]progressCacheEntry),
	}
}

// Put overwrites the session's last-known event.
func (c *ProgressCache) Put(event model.ProgressEvent, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[event.SessionID] = progressCacheEntry{event: event, storedAt: now}
}

// Get returns a copy of the session's last-known event, or nil if absent.
func (c *ProgressCache) Get(sessionID string) *model.ProgressEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return nil
	}
	event := entry.event
	return &event
}

// Delete removes the session's entry. Returns true if one existed.
func (c *ProgressCache) Delete(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[sessionID]
	delete(c.entries, sessionID)
	return ok
}

// Evict removes entries stored longer ago than maxAge and returns how many
// were removed. Called by the sweeper.
func (c *ProgressCache) Evict(maxAge time.Duration, now time.Time) int {
	cutoff := now.Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted int
	for sessionID, entry := range c.entries {
		if entry.storedAt.Before(cutoff) {
			delete(c.entries, sessionID)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of cached entries.
func (c *ProgressCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
