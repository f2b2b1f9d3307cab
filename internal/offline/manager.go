// Package offline ties the tile store, the tile source and area downloads
// together behind the API the map and the HTTP layer use.
package offline

import (
	"context"
	"math"
	"sync"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"offlinetiles/internal/area_download"
	"offlinetiles/internal/cache"
	"offlinetiles/internal/config"
	"offlinetiles/internal/events"
	"offlinetiles/internal/tile_grid"
	"offlinetiles/internal/tile_source"
)

// Map is the map layer the manager installs tile sources into.
type Map interface {
	AddTileSource(ts tile_source.TileSource)
	RemoveTileSource(ts tile_source.TileSource)
}

var errStoreNotOpen = errors.New(errors.CodeUnavailable, "tile store is not open, Init has not completed")

// maxFinishedSessions bounds how many finished sessions Sessions keeps reporting.
const maxFinishedSessions = 32

type download struct {
	session *area_download.Session
	cancel  context.CancelFunc
}

type Manager struct {
	store      cache.Store
	fetcher    tile_source.Fetcher
	bus        *events.Bus
	downloader *area_download.Downloader
	logger     *zap.Logger

	mu          sync.Mutex
	layer       Map
	adapter     *tile_source.Adapter
	offlineOnly bool
	downloads   []*download

	// ctx is canceled by Shutdown and parents every async download.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, store cache.Store, fetcher tile_source.Fetcher, bus *events.Bus, logger *zap.Logger) *Manager {
	if bus == nil {
		bus = events.NewBus()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       store,
		fetcher:     fetcher,
		bus:         bus,
		downloader:  area_download.New(store, fetcher, bus, cfg.DownloadOptions(), logger),
		logger:      logger,
		offlineOnly: cfg.OfflineOnly,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Init opens the store, waiting for it to become ready, and installs a tile
// source into layer. Store failures come back with cache.IsUnavailable set.
func (m *Manager) Init(ctx context.Context, layer Map) error {
	if err := m.store.Open(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.layer != nil && m.adapter != nil {
		m.layer.RemoveTileSource(m.adapter)
	}
	m.layer = layer
	m.install()

	m.logger.Info("Offline map initialized", zap.Bool("offline_only", m.offlineOnly))
	return nil
}

// install builds an adapter for the current mode. Callers hold mu.
func (m *Manager) install() {
	m.adapter = tile_source.NewAdapter(m.store, m.fetcher, m.offlineOnly, m.bus, m.logger)
	if m.layer != nil {
		m.layer.AddTileSource(m.adapter)
	}
}

// ToggleOfflineMode replaces the installed tile source with one using the new policy.
func (m *Manager) ToggleOfflineMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.offlineOnly = enabled
	if m.layer == nil {
		return
	}

	if m.adapter != nil {
		m.layer.RemoveTileSource(m.adapter)
	}
	m.install()

	m.logger.Info("Offline mode toggled", zap.Bool("offline_only", enabled))
}

func (m *Manager) OfflineOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offlineOnly
}

// TileSource returns the installed source, or nil before Init.
func (m *Manager) TileSource() tile_source.TileSource {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.adapter == nil {
		return nil
	}
	return m.adapter
}

// storeReady fails with cache.IsUnavailable set until the store has opened.
func (m *Manager) storeReady() error {
	select {
	case <-m.store.Ready():
		return nil
	default:
		return errStoreNotOpen
	}
}

// newSession validates bounds once the store is open.
func (m *Manager) newSession(bounds tile_grid.Bounds) (*area_download.Session, error) {
	if err := m.storeReady(); err != nil {
		return nil, err
	}
	return m.downloader.NewSession(bounds)
}

// DownloadArea downloads bounds and returns when the session is done.
func (m *Manager) DownloadArea(ctx context.Context, bounds tile_grid.Bounds) (*area_download.Session, error) {
	s, err := m.newSession(bounds)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.track(&download{session: s, cancel: cancel})
	m.downloader.Run(ctx, s)
	return s, nil
}

// StartDownload runs the download in the background and returns its session at once.
func (m *Manager) StartDownload(bounds tile_grid.Bounds) (*area_download.Session, error) {
	s, err := m.newSession(bounds)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.track(&download{session: s, cancel: cancel})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.downloader.Run(ctx, s)
	}()

	return s, nil
}

func (m *Manager) track(d *download) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.downloads = append(m.downloads, d)

	finished := 0
	for _, t := range m.downloads {
		if isDone(t.session) {
			finished++
		}
	}
	if finished <= maxFinishedSessions {
		return
	}

	kept := m.downloads[:0]
	for _, t := range m.downloads {
		if finished > maxFinishedSessions && isDone(t.session) {
			finished--
			continue
		}
		kept = append(kept, t)
	}
	m.downloads = kept
}

func isDone(s *area_download.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// CancelDownload stops a running session. The session still reports completion.
func (m *Manager) CancelDownload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.downloads {
		if d.session.ID == id {
			d.cancel()
			return nil
		}
	}
	return errors.Newf(errors.CodeNotFound, "download session %s not found", id)
}

// Session looks up a tracked session by id.
func (m *Manager) Session(id string) (*area_download.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.downloads {
		if d.session.ID == id {
			return d.session, true
		}
	}
	return nil, false
}

// Sessions returns the running sessions and the most recent finished ones, oldest first.
func (m *Manager) Sessions() []*area_download.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*area_download.Session, 0, len(m.downloads))
	for _, d := range m.downloads {
		out = append(out, d.session)
	}
	return out
}

func (m *Manager) ClearCache(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.logger.Info("Tile cache cleared")
	return nil
}

func (m *Manager) CacheSizeBytes(ctx context.Context) (int64, error) {
	return m.store.SizeBytes(ctx)
}

// CacheSizeMB is the stored payload size in MiB, rounded to two decimals.
func (m *Manager) CacheSizeMB(ctx context.Context) (float64, error) {
	size, err := m.store.SizeBytes(ctx)
	if err != nil {
		return 0, err
	}
	return BytesToMB(size), nil
}

func BytesToMB(size int64) float64 {
	return math.Round(float64(size)/(1024*1024)*100) / 100
}

// Subscribe registers fn for every manager event.
func (m *Manager) Subscribe(fn func(events.Event)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// Shutdown cancels running downloads and waits for them to report completion.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
