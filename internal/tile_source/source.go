package tile_source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"offlinetiles/internal/cache"
	"offlinetiles/internal/events"
	"offlinetiles/internal/tile"
)

// Origin says where a served tile came from.
type Origin string

const (
	OriginCache       Origin = "cache"
	OriginNetwork     Origin = "network"
	OriginPlaceholder Origin = "placeholder"
)

type Result struct {
	Data        []byte
	ContentType string
	Origin      Origin
	ETag        string
}

// TileSource is what a map layer asks for tile images.
// ProvideTile always yields an image; failures become placeholders.
type TileSource interface {
	TileURL(c tile.Coord) string
	ProvideTile(ctx context.Context, c tile.Coord) Result
}

// Fetcher downloads tiles from the provider.
type Fetcher interface {
	URL(c tile.Coord) string
	Fetch(ctx context.Context, c tile.Coord) (cache.StoredTile, error)
}

// Adapter serves tiles from the store first and the network second.
// Its mode is fixed; toggling offline mode means building a new Adapter.
// writeBackTimeout bounds the cache write that follows a network fetch.
const writeBackTimeout = 5 * time.Second

type Adapter struct {
	store       cache.Store
	fetcher     Fetcher
	offlineOnly bool
	bus         *events.Bus
	logger      *zap.Logger
}

func NewAdapter(store cache.Store, fetcher Fetcher, offlineOnly bool, bus *events.Bus, logger *zap.Logger) *Adapter {
	return &Adapter{
		store:       store,
		fetcher:     fetcher,
		offlineOnly: offlineOnly,
		bus:         bus,
		logger:      logger,
	}
}

func (a *Adapter) OfflineOnly() bool {
	return a.offlineOnly
}

func (a *Adapter) TileURL(c tile.Coord) string {
	return a.fetcher.URL(c)
}

func (a *Adapter) ProvideTile(ctx context.Context, c tile.Coord) Result {
	cached, ok, err := a.store.Get(ctx, c)
	if err != nil {
		a.logger.Warn("Tile store lookup failed",
			zap.Int("z", c.Z), zap.Int("x", c.X), zap.Int("y", c.Y), zap.Error(err))
		return a.placeholder(c)
	}
	if ok {
		return Result{
			Data:        cached.Data,
			ContentType: cached.ContentType,
			Origin:      OriginCache,
			ETag:        generateETag(cached.Data),
		}
	}

	if a.offlineOnly {
		return a.placeholder(c)
	}

	fetched, err := a.fetcher.Fetch(ctx, c)
	if err != nil {
		a.logger.Debug("Tile fetch failed, serving placeholder",
			zap.Int("z", c.Z), zap.Int("x", c.X), zap.Int("y", c.Y), zap.Error(err))
		return a.placeholder(c)
	}

	// The write outlives a client that disconnects after the fetch.
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer cancel()
	if err := a.store.Put(putCtx, c, fetched); err != nil {
		a.logger.Warn("Failed to cache fetched tile",
			zap.Int("z", c.Z), zap.Int("x", c.X), zap.Int("y", c.Y), zap.Error(err))
	}

	return Result{
		Data:        fetched.Data,
		ContentType: fetched.ContentType,
		Origin:      OriginNetwork,
		ETag:        generateETag(fetched.Data),
	}
}

func (a *Adapter) placeholder(c tile.Coord) Result {
	if a.bus != nil {
		coord := c
		a.bus.Publish(events.Event{Type: events.MissingTile, Coord: &coord})
	}

	data := Placeholder()
	return Result{
		Data:        data,
		ContentType: "image/png",
		Origin:      OriginPlaceholder,
		ETag:        generateETag(data),
	}
}

func generateETag(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])[:16]
}
