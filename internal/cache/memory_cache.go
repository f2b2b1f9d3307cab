package cache

import (
	"context"
	"sync"
	"time"

	"offlinetiles/internal/tile"
)

// MemoryCache keeps tiles in a map for the life of the process.
// It never evicts; the running byte total is updated on every write.
type MemoryCache struct {
	*readiness

	mu    sync.RWMutex
	items map[string]StoredTile
	bytes int64
}

// NewMemoryCache creates an in-memory store. Open must still be called.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		readiness: newReadiness(),
		items:     make(map[string]StoredTile),
	}
}

func (c *MemoryCache) Open(ctx context.Context) error {
	return c.resolve(func() error { return ctx.Err() })
}

func (c *MemoryCache) Get(ctx context.Context, coord tile.Coord) (*StoredTile, bool, error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.items[tile.Key(coord)]
	if !ok {
		return nil, false, nil
	}

	t.Data = append([]byte(nil), t.Data...)
	return &t, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, coord tile.Coord, t StoredTile) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	t.Data = append([]byte(nil), t.Data...)
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := tile.Key(coord)
	if old, ok := c.items[key]; ok {
		c.bytes -= old.Size()
	}
	c.items[key] = t
	c.bytes += t.Size()
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]StoredTile)
	c.bytes = 0
	return nil
}

func (c *MemoryCache) SizeBytes(ctx context.Context) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.bytes, nil
}

// Len returns the number of stored tiles.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

func (c *MemoryCache) Close() error {
	c.abandon()
	return nil
}
