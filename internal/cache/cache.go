// Package cache implements the live state cache (C4): an in-memory
// host-id → ServerWithDetails mapping that is the only thing outbound
// broadcasts ever read from. The store stays the source of truth; this
// cache is a recomputed, mutex-protected projection of it.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/metrics"
)

// ServerWithDetails is the fully-joined record a connected client sees: the
// host's basic fields plus its latest metric snapshot.
type ServerWithDetails struct {
	Host           host.Host
	LatestSnapshot *metrics.Snapshot
	TrafficPercent float64
	TrafficTracked bool
}

// HostLoader recomputes one ServerWithDetails from the store. Implemented
// by internal/app's wiring over internal/storage.
type HostLoader interface {
	LoadServerWithDetails(ctx context.Context, hostID string) (*ServerWithDetails, error)
}

// Cache is the single-mutex, recompute-on-trigger live state table.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]ServerWithDetails
	loader  HostLoader
}

// New constructs an empty cache backed by loader.
func New(loader HostLoader) *Cache {
	return &Cache{
		entries: make(map[string]ServerWithDetails),
		loader:  loader,
	}
}

// Refresh recomputes the cache entry for hostID from the store and
// reinserts it atomically, per spec §4.C4. A not-found result evicts the
// existing entry rather than leaving stale data behind.
func (c *Cache) Refresh(ctx context.Context, hostID string) error {
	details, err := c.loader.LoadServerWithDetails(ctx, hostID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if details == nil {
		delete(c.entries, hostID)
		return nil
	}
	c.entries[hostID] = *details
	return nil
}

// Get returns the cached entry for hostID, if present.
func (c *Cache) Get(hostID string) (ServerWithDetails, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[hostID]
	return d, ok
}

// Snapshot returns every cached entry, the input to a FullServerList
// broadcast (C5).
func (c *Cache) Snapshot() []ServerWithDetails {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ServerWithDetails, 0, len(c.entries))
	for _, d := range c.entries {
		out = append(out, d)
	}
	return out
}

// Evict removes hostID unconditionally, used when a host is deleted.
func (c *Cache) Evict(hostID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, hostID)
}

// lastSeen is a tiny helper the HTTP/public views use to decide staleness
// without importing the session package (avoids a cache↔session cycle).
func lastSeen(d ServerWithDetails) time.Time {
	return d.Host.UpdatedAt
}

// LastSeen exposes lastSeen for callers outside the package.
func LastSeen(d ServerWithDetails) time.Time { return lastSeen(d) }
