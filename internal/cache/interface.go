package cache

import (
	"context"
	"time"

	"offlinetiles/internal/tile"
)

// StoredTile is one cached tile payload.
type StoredTile struct {
	ContentType string
	Data        []byte
	UpdatedAt   time.Time
}

// Size is the payload length counted by SizeBytes.
func (t StoredTile) Size() int64 {
	return int64(len(t.Data))
}

// Store persists tiles keyed by tile.Key.
//
// Get, Put, Clear and SizeBytes wait for Open to resolve before touching the
// backend. If Open failed they return an error for which IsUnavailable is true.
type Store interface {
	Open(ctx context.Context) error
	Ready() <-chan struct{}

	// Get returns (nil, false, nil) when the tile is absent.
	Get(ctx context.Context, c tile.Coord) (*StoredTile, bool, error)
	// Put replaces any previous value for the key. A failed Put leaves the old value.
	Put(ctx context.Context, c tile.Coord, t StoredTile) error
	Clear(ctx context.Context) error
	SizeBytes(ctx context.Context) (int64, error)

	Close() error
}
