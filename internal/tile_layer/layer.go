package tile_layer

import (
	"context"
	"sync"

	"offlinetiles/internal/tile"
	"offlinetiles/internal/tile_source"
)

// Layer is the map side of the tile source contract. It holds at most one
// active source and bumps its generation on every install or removal.
type Layer struct {
	mu         sync.RWMutex
	source     tile_source.TileSource
	generation uint64
}

func New() *Layer {
	return &Layer{}
}

func (l *Layer) AddTileSource(ts tile_source.TileSource) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.source = ts
	l.generation++
}

// RemoveTileSource detaches ts. Removing a source that is not the active
// one is a no-op.
func (l *Layer) RemoveTileSource(ts tile_source.TileSource) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.source == nil || l.source != ts {
		return
	}
	l.source = nil
	l.generation++
}

// Generation changes whenever the active source changes.
func (l *Layer) Generation() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.generation
}

func (l *Layer) Source() tile_source.TileSource {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.source
}

// ProvideTile asks the active source for a tile. ok is false when no source
// is installed.
func (l *Layer) ProvideTile(ctx context.Context, c tile.Coord) (res tile_source.Result, generation uint64, ok bool) {
	l.mu.RLock()
	ts, generation := l.source, l.generation
	l.mu.RUnlock()

	if ts == nil {
		return tile_source.Result{}, generation, false
	}
	return ts.ProvideTile(ctx, c), generation, true
}
