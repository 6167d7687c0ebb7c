package marketdata

import "sync"

// Cache holds the last known-good Snapshot per symbol. It backs the refresh
// loop when a live fetch fails or returns nothing. Each symbol has exactly one
// refresher, so last-writer-wins semantics are fine.
type Cache struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{snaps: make(map[string]Snapshot)}
}

// Get returns the cached snapshot for symbol, if any.
func (c *Cache) Get(symbol string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snaps[symbol]
	return snap, ok
}

// Put stores a snapshot. Empty snapshots are ignored so a transient outage
// never evicts usable data.
func (c *Cache) Put(snap Snapshot) {
	if snap.Empty() {
		return
	}
	c.mu.Lock()
	c.snaps[snap.Symbol] = snap
	c.mu.Unlock()
}

// Drop removes a symbol's cached snapshot (used when a tracker changes symbol).
func (c *Cache) Drop(symbol string) {
	c.mu.Lock()
	delete(c.snaps, symbol)
	c.mu.Unlock()
}
