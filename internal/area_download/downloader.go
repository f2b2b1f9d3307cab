package area_download

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"offlinetiles/internal/cache"
	"offlinetiles/internal/events"
	"offlinetiles/internal/tile"
	"offlinetiles/internal/tile_grid"
)

// Fetcher downloads a single tile and validates its payload.
type Fetcher interface {
	Fetch(ctx context.Context, c tile.Coord) (cache.StoredTile, error)
}

// MaxTilesCeiling bounds every download session regardless of configuration.
const MaxTilesCeiling = 1 << 20

type Options struct {
	Zoom tile.ZoomRange
	// Delay is the pause between two consecutive tile requests.
	Delay time.Duration
	// MaxTiles rejects larger areas before anything is fetched. Values outside
	// 1..MaxTilesCeiling fall back to the ceiling.
	MaxTiles int
}

// Downloader fetches every tile of an area into the store, one tile at a time.
type Downloader struct {
	store   cache.Store
	fetcher Fetcher
	bus     *events.Bus
	opts    Options
	logger  *zap.Logger
}

func New(store cache.Store, fetcher Fetcher, bus *events.Bus, opts Options, logger *zap.Logger) *Downloader {
	return &Downloader{
		store:   store,
		fetcher: fetcher,
		bus:     bus,
		opts:    opts,
		logger:  logger,
	}
}

// IsInvalidArea reports whether err rejected the bounds of a download.
func IsInvalidArea(err error) bool {
	return errors.GetCode(err) == errors.CodeInvalidInput
}

// NewSession validates the bounds and enumerates the tiles to download.
func (d *Downloader) NewSession(bounds tile_grid.Bounds) (*Session, error) {
	if err := bounds.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "invalid download area")
	}

	limit := d.opts.MaxTiles
	if limit <= 0 || limit > MaxTilesCeiling {
		limit = MaxTilesCeiling
	}
	total := bounds.Count(d.opts.Zoom)
	if total > limit {
		return nil, errors.Newf(errors.CodeInvalidInput,
			"download area covers %d tiles, limit is %d", total, limit)
	}

	return &Session{
		ID:     uuid.New().String(),
		Bounds: bounds,
		Zoom:   d.opts.Zoom,
		Total:  total,
		coords: bounds.Tiles(d.opts.Zoom),
		done:   make(chan struct{}),
	}, nil
}

// DownloadArea downloads every tile in bounds and returns when the session is done.
func (d *Downloader) DownloadArea(ctx context.Context, bounds tile_grid.Bounds) (*Session, error) {
	s, err := d.NewSession(bounds)
	if err != nil {
		return nil, err
	}
	d.Run(ctx, s)
	return s, nil
}

// Run processes the session's tiles in order. A failing tile is reported
// and counted, then the loop moves on. Canceling ctx stops the loop;
// the complete event fires exactly once either way.
func (d *Downloader) Run(ctx context.Context, s *Session) {
	log := d.logger.With(zap.String("session_id", s.ID))
	log.Info("Starting area download",
		zap.Int("tiles", s.Total),
		zap.Int("min_zoom", s.Zoom.Min),
		zap.Int("max_zoom", s.Zoom.Max),
	)

	s.start()
	start := time.Now()
	canceled := false

	for i, c := range s.coords {
		if ctx.Err() != nil {
			canceled = true
			break
		}

		err := d.downloadTile(ctx, c)
		if err != nil && ctx.Err() != nil {
			canceled = true
			break
		}

		if err != nil {
			log.Warn("Tile download failed",
				zap.Int("z", c.Z), zap.Int("x", c.X), zap.Int("y", c.Y), zap.Error(err))
			coord := c
			d.publish(events.Event{Type: events.Error, SessionID: s.ID, Coord: &coord, Err: err})
		}

		completed := s.record(err)
		d.publish(events.Event{Type: events.Progress, SessionID: s.ID, Completed: completed, Total: s.Total})

		if i < len(s.coords)-1 && d.opts.Delay > 0 {
			if err := wait(ctx, d.opts.Delay); err != nil {
				canceled = true
				break
			}
		}
	}

	s.finish(canceled)
	d.publish(events.Event{
		Type:      events.Complete,
		SessionID: s.ID,
		Completed: s.Completed(),
		Total:     s.Total,
		Err:       s.Err(),
	})

	log.Info("Area download finished",
		zap.Int("completed", s.Completed()),
		zap.Int("failed", s.Failed()),
		zap.Bool("canceled", canceled),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}

func (d *Downloader) downloadTile(ctx context.Context, c tile.Coord) error {
	t, err := d.fetcher.Fetch(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to download tile %s: %w", c, err)
	}
	if err := d.store.Put(ctx, c, t); err != nil {
		return fmt.Errorf("failed to store tile %s: %w", c, err)
	}
	return nil
}

func (d *Downloader) publish(e events.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}

func wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
