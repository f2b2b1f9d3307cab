package area_download

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"offlinetiles/internal/cache"
	"offlinetiles/internal/events"
	"offlinetiles/internal/testkit"
	"offlinetiles/internal/tile"
	"offlinetiles/internal/tile_fetcher"
	"offlinetiles/internal/tile_grid"
)

var (
	tehranStrip = tile_grid.NewBounds(35.70, 35.68, 51.44, 51.38)
	tehranBlock = tile_grid.NewBounds(35.76, 35.70, 51.44, 51.38)
	z12         = tile.ZoomRange{Min: 12, Max: 12}
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	bus.Subscribe(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *cache.MemoryCache
	provider *testkit.Provider
	bus      *events.Bus
	events   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    cache.NewMemoryCache(),
		provider: testkit.NewProvider(t),
		bus:      events.NewBus(),
	}
	require.NoError(t, f.store.Open(context.Background()))
	f.events = record(f.bus)
	return f
}

func (f *fixture) downloader(opts Options) *Downloader {
	fetcher := tile_fetcher.New(tile_fetcher.Options{
		URLTemplate: f.provider.Template(),
		Subdomains:  []string{"a"},
		Timeout:     2 * time.Second,
	}, nil, nil)
	return New(f.store, fetcher, f.bus, opts, zap.NewNop())
}

func TestDownloadArea_Tehran(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.downloader(Options{Zoom: z12}).DownloadArea(ctx, tehranStrip)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.Completed())
	assert.Zero(t, s.Failed())
	assert.NoError(t, s.Err())
	assert.False(t, s.Canceled())

	progress := f.events.ofType(events.Progress)
	require.Len(t, progress, 2)
	assert.Equal(t, 1, progress[0].Completed)
	assert.Equal(t, 2, progress[1].Completed)
	assert.Equal(t, 2, progress[1].Total)
	assert.Equal(t, s.ID, progress[0].SessionID)

	complete := f.events.ofType(events.Complete)
	require.Len(t, complete, 1)
	assert.Equal(t, s.ID, complete[0].SessionID)

	for _, c := range []tile.Coord{{X: 2632, Y: 1612, Z: 12}, {X: 2633, Y: 1612, Z: 12}} {
		stored, ok, err := f.store.Get(ctx, c)
		require.NoError(t, err)
		require.True(t, ok, c.String())
		assert.NotEmpty(t, stored.Data)
		assert.Equal(t, "image/png", stored.ContentType)
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("session not done")
	}
}

func TestDownloadArea_RequestOrder(t *testing.T) {
	f := newFixture(t)

	s, err := f.downloader(Options{Zoom: z12}).DownloadArea(context.Background(), tehranBlock)
	require.NoError(t, err)
	require.Equal(t, 4, s.Total)

	assert.Equal(t, []string{
		"/a/12/2632/1611.png",
		"/a/12/2633/1611.png",
		"/a/12/2632/1612.png",
		"/a/12/2633/1612.png",
	}, f.provider.Requests())
}

func TestDownloadArea_FailuresDoNotAbort(t *testing.T) {
	f := newFixture(t)
	f.provider.Fail("12/2633/1611", http.StatusNotFound)
	ctx := context.Background()

	s, err := f.downloader(Options{Zoom: z12}).DownloadArea(ctx, tehranBlock)
	require.NoError(t, err)

	progress := f.events.ofType(events.Progress)
	require.Len(t, progress, 4)
	for i, e := range progress {
		assert.Equal(t, i+1, e.Completed)
		assert.Equal(t, 4, e.Total)
	}

	failures := f.events.ofType(events.Error)
	require.Len(t, failures, 1)
	assert.Equal(t, tile.Coord{X: 2633, Y: 1611, Z: 12}, *failures[0].Coord)
	assert.True(t, tile_fetcher.IsNetworkError(failures[0].Err))

	assert.Len(t, f.events.ofType(events.Complete), 1)
	assert.Equal(t, 4, s.Completed())
	assert.Equal(t, 1, s.Failed())
	assert.Error(t, s.Err())
	assert.Equal(t, 3, f.store.Len())
}

func TestDownloadArea_RedownloadRefetches(t *testing.T) {
	f := newFixture(t)
	d := f.downloader(Options{Zoom: z12})

	_, err := d.DownloadArea(context.Background(), tehranStrip)
	require.NoError(t, err)
	_, err = d.DownloadArea(context.Background(), tehranStrip)
	require.NoError(t, err)

	// cached tiles are not skipped
	assert.Equal(t, 4, f.provider.RequestCount())
	assert.Equal(t, 2, f.store.Len())
}

func TestDownloadArea_DelayBetweenTiles(t *testing.T) {
	f := newFixture(t)
	delay := 30 * time.Millisecond

	start := time.Now()
	_, err := f.downloader(Options{Zoom: z12, Delay: delay}).DownloadArea(context.Background(), tehranBlock)
	require.NoError(t, err)

	// three pauses for four tiles
	assert.GreaterOrEqual(t, time.Since(start), 3*delay)
}

func TestDownloadArea_TooManyTiles(t *testing.T) {
	f := newFixture(t)

	_, err := f.downloader(Options{Zoom: z12, MaxTiles: 3}).DownloadArea(context.Background(), tehranBlock)
	require.Error(t, err)
	assert.True(t, IsInvalidArea(err))
	assert.Zero(t, f.provider.RequestCount())
	assert.Empty(t, f.events.ofType(events.Complete))
}

func TestDownloadArea_UnlimitedFallsBackToCeiling(t *testing.T) {
	f := newFixture(t)
	world := tile_grid.NewBounds(85, -85, 180, -180)

	_, err := f.downloader(Options{Zoom: tile.ZoomRange{Min: 0, Max: tile.MaxSupportedZoom}}).
		DownloadArea(context.Background(), world)
	require.Error(t, err)
	assert.True(t, IsInvalidArea(err))
	assert.ErrorContains(t, err, "limit is 1048576")
	assert.Zero(t, f.provider.RequestCount())
}

func TestDownloadArea_InvalidBounds(t *testing.T) {
	f := newFixture(t)

	_, err := f.downloader(Options{Zoom: z12}).DownloadArea(context.Background(), tile_grid.NewBounds(95, 35, 51, 50))
	require.Error(t, err)
	assert.True(t, IsInvalidArea(err))
}

type fetchFunc func(ctx context.Context, c tile.Coord) (cache.StoredTile, error)

func (f fetchFunc) Fetch(ctx context.Context, c tile.Coord) (cache.StoredTile, error) {
	return f(ctx, c)
}

func TestDownloadArea_CancelDuringDelay(t *testing.T) {
	store := cache.NewMemoryCache()
	require.NoError(t, store.Open(context.Background()))
	bus := events.NewBus()
	rec := record(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := fetchFunc(func(_ context.Context, _ tile.Coord) (cache.StoredTile, error) {
		cancel()
		return cache.StoredTile{ContentType: "image/png", Data: []byte("tile")}, nil
	})

	d := New(store, fetcher, bus, Options{Zoom: z12, Delay: time.Hour}, zap.NewNop())
	s, err := d.DownloadArea(ctx, tehranBlock)
	require.NoError(t, err)

	assert.True(t, s.Canceled())
	assert.Equal(t, 1, s.Completed())
	assert.Len(t, rec.ofType(events.Progress), 1)
	assert.Len(t, rec.ofType(events.Complete), 1)
	assert.True(t, s.Snapshot().Done)
}

func TestDownloadArea_CancelDuringFetch(t *testing.T) {
	store := cache.NewMemoryCache()
	require.NoError(t, store.Open(context.Background()))
	bus := events.NewBus()
	rec := record(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := fetchFunc(func(ctx context.Context, _ tile.Coord) (cache.StoredTile, error) {
		cancel()
		<-ctx.Done()
		return cache.StoredTile{}, ctx.Err()
	})

	s, err := New(store, fetcher, bus, Options{Zoom: z12}, zap.NewNop()).DownloadArea(ctx, tehranBlock)
	require.NoError(t, err)

	assert.True(t, s.Canceled())
	assert.Zero(t, s.Completed())
	assert.Empty(t, rec.ofType(events.Error))
	assert.Len(t, rec.ofType(events.Complete), 1)
}

func TestDownloadArea_StoreFailureCounts(t *testing.T) {
	store := cache.NewMemoryCache()
	require.NoError(t, store.Close())
	bus := events.NewBus()
	rec := record(bus)

	fetcher := fetchFunc(func(_ context.Context, _ tile.Coord) (cache.StoredTile, error) {
		return cache.StoredTile{ContentType: "image/png", Data: []byte("tile")}, nil
	})

	s, err := New(store, fetcher, bus, Options{Zoom: z12}, zap.NewNop()).DownloadArea(context.Background(), tehranStrip)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Failed())
	assert.Len(t, rec.ofType(events.Error), 2)
	assert.True(t, cache.IsUnavailable(rec.ofType(events.Error)[0].Err))
}

func TestSession_Snapshot(t *testing.T) {
	f := newFixture(t)
	d := f.downloader(Options{Zoom: tile.ZoomRange{Min: 11, Max: 13}})

	s, err := d.NewSession(tehranStrip)
	require.NoError(t, err)
	assert.Len(t, s.Coords(), 5)

	snap := s.Snapshot()
	assert.Equal(t, s.ID, snap.ID)
	assert.Equal(t, 5, snap.Total)
	assert.False(t, snap.Done)
	assert.Nil(t, snap.StartedAt)
	assert.InDelta(t, 35.70, snap.North, 1e-9)
	assert.InDelta(t, 51.38, snap.West, 1e-9)

	d.Run(context.Background(), s)
	snap = s.Snapshot()
	assert.True(t, snap.Done)
	assert.Equal(t, 5, snap.Completed)
	assert.NotNil(t, snap.FinishedAt)
	assert.Empty(t, snap.Error)
}

func TestSession_ErrCombinesFailures(t *testing.T) {
	s := &Session{done: make(chan struct{})}
	s.record(errors.New("first"))
	s.record(nil)
	s.record(errors.New("second"))

	assert.Equal(t, 3, s.Completed())
	assert.Equal(t, 2, s.Failed())
	assert.ErrorContains(t, s.Err(), "first")
	assert.ErrorContains(t, s.Err(), "second")
}
