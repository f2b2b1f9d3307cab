package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"offlinetiles/internal/cache"
	"offlinetiles/internal/config"
	"offlinetiles/internal/events"
	"offlinetiles/internal/image_decoder"
	"offlinetiles/internal/logger"
	"offlinetiles/internal/offline"
	"offlinetiles/internal/tile"
	"offlinetiles/internal/tile_fetcher"
	"offlinetiles/internal/tile_grid"
	"offlinetiles/internal/tile_layer"
	"offlinetiles/internal/vips_decoder"
)

const fetchAttempts = 3

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "download":
		err = cmdDownload(ctx, args)
	case "clear":
		err = cmdClear(ctx)
	case "size":
		err = cmdSize(ctx)
	case "get":
		err = cmdGet(ctx, args)
	case "put":
		err = cmdPut(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: tilectl <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  download -north N -south S -east E -west W   Download an area into the tile store")
	fmt.Println("  get -z Z -x X -y Y [-out FILE] [-data-uri]  Write one tile to FILE (default stdout)")
	fmt.Println("  put -z Z -x X -y Y -in FILE                 Store an image or data URI file as one tile")
	fmt.Println("  size                                        Show the tile store size")
	fmt.Println("  clear                                       Remove every stored tile")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  Same variables as the server (DATA_DIR, CACHE, STORE_NAME, MIN_ZOOM, ...)")
	fmt.Println("  CONFIG_FILE   Optional YAML file read before the environment")
	fmt.Println()
}

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   cache.Store
	decoder image_decoder.Decoder
	release func()
	fetcher *tile_fetcher.Fetcher
	manager *offline.Manager
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	log, err := logger.New(level, "stderr")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.CacheType != "memory" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	store, err := cache.NewStore(cfg.StoreOptions(), log)
	if err != nil {
		return nil, err
	}

	decoder, release := vips_decoder.Select(cfg.TileDecoder, cfg.VipsConcurrency, cfg.VipsMaxCacheMB, log)
	fetcher := tile_fetcher.New(cfg.FetcherOptions(), decoder, nil)
	manager := offline.New(cfg, store, fetcher, events.NewBus(), log)
	if err := manager.Init(ctx, tile_layer.New()); err != nil {
		store.Close()
		release()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		decoder: decoder,
		release: release,
		fetcher: fetcher,
		manager: manager,
	}, nil
}

func (a *app) close() {
	a.store.Close()
	a.release()
	a.log.Sync()
}

func cmdDownload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	north := fs.Float64("north", 0, "north latitude")
	south := fs.Float64("south", 0, "south latitude")
	east := fs.Float64("east", 0, "east longitude")
	west := fs.Float64("west", 0, "west longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	bounds := tile_grid.NewBounds(*north, *south, *east, *west)
	cyan.Printf("Downloading zoom %d..%d (%d tiles)\n", a.cfg.MinZoom, a.cfg.MaxZoom, bounds.Count(a.cfg.Zoom()))

	unsubscribe := a.manager.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.Progress:
			fmt.Printf("\r  %d/%d tiles", e.Completed, e.Total)
		case events.Error:
			fmt.Println()
			yellow.Printf("  %s: %v\n", e.Coord, e.Err)
		}
	})
	defer unsubscribe()

	start := time.Now()
	session, err := a.manager.DownloadArea(ctx, bounds)
	if err != nil {
		return err
	}
	fmt.Println()

	size, err := a.manager.CacheSizeBytes(context.Background())
	if err != nil {
		return err
	}

	if session.Canceled() {
		yellow.Printf("Canceled after %d/%d tiles\n", session.Completed(), session.Total)
	} else {
		green.Printf("Done: %d tiles, %d failed, %s\n", session.Completed(), session.Failed(),
			time.Since(start).Round(time.Millisecond))
	}
	fmt.Printf("Store size: %s\n", humanize.IBytes(uint64(size)))

	if session.Failed() > 0 {
		return fmt.Errorf("%d tiles failed", session.Failed())
	}
	return nil
}

func cmdClear(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.ClearCache(ctx); err != nil {
		return err
	}
	color.Green("Tile store cleared")
	return nil
}

func cmdSize(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	size, err := a.manager.CacheSizeBytes(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%.2f MB, %s bytes)\n", humanize.IBytes(uint64(size)), offline.BytesToMB(size), humanize.Comma(size))

	if counter, ok := a.store.(interface {
		Count(ctx context.Context) (int, error)
	}); ok {
		n, err := counter.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s tiles\n", humanize.Comma(int64(n)))
	}
	return nil
}

func cmdGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	z := fs.Int("z", 0, "zoom")
	x := fs.Int("x", 0, "column")
	y := fs.Int("y", 0, "row")
	out := fs.String("out", "-", "output file, - for stdout")
	dataURI := fs.Bool("data-uri", false, "write the tile as a data URI")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := tile.Coord{X: *x, Y: *y, Z: *z}
	if !c.InGrid() {
		return fmt.Errorf("tile %s is outside the grid", c)
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stored, ok, err := a.store.Get(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		if a.cfg.OfflineOnly {
			return fmt.Errorf("tile %s is not stored and offline mode is on", c)
		}
		fetched, err := fetchWithRetry(ctx, a.fetcher, c)
		if err != nil {
			return err
		}
		if err := a.store.Put(ctx, c, fetched); err != nil {
			return err
		}
		stored = &fetched
	}

	payload := stored.Data
	if *dataURI {
		payload = []byte(stored.DataURI())
	}

	if *out == "-" {
		_, err = os.Stdout.Write(payload)
		return err
	}
	if err := os.WriteFile(*out, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write tile: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%s, %s)\n", *out, stored.ContentType, humanize.IBytes(uint64(len(payload))))
	return nil
}

func cmdPut(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	z := fs.Int("z", 0, "zoom")
	x := fs.Int("x", 0, "column")
	y := fs.Int("y", 0, "row")
	in := fs.String("in", "", "image file or data URI file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := tile.Coord{X: *x, Y: *y, Z: *z}
	if !c.InGrid() {
		return fmt.Errorf("tile %s is outside the grid", c)
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *in, err)
	}
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	t, err := readTile(data, a.decoder)
	if err != nil {
		return err
	}

	if err := a.store.Put(ctx, c, t); err != nil {
		return err
	}
	color.Green("Stored %s (%s, %s)", c, t.ContentType, humanize.IBytes(uint64(t.Size())))
	return nil
}

// readTile accepts raw image bytes or a data URI as exported by browser tile stores.
func readTile(data []byte, decoder image_decoder.Decoder) (cache.StoredTile, error) {
	if trimmed := bytes.TrimSpace(data); bytes.HasPrefix(trimmed, []byte("data:")) {
		t, err := cache.ParseDataURI(string(trimmed))
		if err != nil {
			return cache.StoredTile{}, err
		}
		data = t.Data
	}

	contentType, err := decoder.Decode(data)
	if err != nil {
		return cache.StoredTile{}, err
	}
	return cache.StoredTile{ContentType: contentType, Data: data}, nil
}

// fetchWithRetry retries failures classified as retryable, with a linear backoff.
func fetchWithRetry(ctx context.Context, fetcher *tile_fetcher.Fetcher, c tile.Coord) (cache.StoredTile, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		t, err := fetcher.Fetch(ctx, c)
		if err == nil {
			return t, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) || attempt == fetchAttempts {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		case <-ctx.Done():
			return cache.StoredTile{}, ctx.Err()
		}
	}
	return cache.StoredTile{}, lastErr
}
