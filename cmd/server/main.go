package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"offlinetiles/internal/cache"
	"offlinetiles/internal/config"
	"offlinetiles/internal/events"
	httphandlers "offlinetiles/internal/http"
	"offlinetiles/internal/logger"
	"offlinetiles/internal/offline"
	"offlinetiles/internal/tile_fetcher"
	"offlinetiles/internal/tile_layer"
	"offlinetiles/internal/vips_decoder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	decoder, release := vips_decoder.Select(cfg.TileDecoder, cfg.VipsConcurrency, cfg.VipsMaxCacheMB, log)
	defer release()

	log.Info("Starting offlinetiles server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("cache", cfg.CacheType),
		zap.Bool("offline_only", cfg.OfflineOnly),
	)

	if cfg.CacheType != "memory" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	store, err := cache.NewStore(cfg.StoreOptions(), log)
	if err != nil {
		return fmt.Errorf("failed to initialize tile store: %w", err)
	}
	defer store.Close()

	fetcher := tile_fetcher.New(cfg.FetcherOptions(), decoder, nil)
	bus := events.NewBus()
	layer := tile_layer.New()
	manager := offline.New(cfg, store, fetcher, bus, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Init(ctx, layer); err != nil {
		return fmt.Errorf("failed to initialize offline map: %w", err)
	}

	bus.Subscribe(func(e events.Event) {
		if e.Type == events.MissingTile {
			log.Debug("Tile missing", zap.String("tile", e.Coord.String()))
		}
	})

	if bounds, ok, _ := cfg.WarmupArea(); ok {
		session, err := manager.StartDownload(bounds)
		if err != nil {
			log.Warn("Warmup download rejected", zap.Error(err))
		} else {
			log.Info("Started warmup download", zap.String("session_id", session.ID), zap.Int("tiles", session.Total))
		}
	}

	handlers := httphandlers.New(cfg, log, manager, layer)

	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handlers.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end when the server stops
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		log.Info("Server started", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn("Downloads did not stop in time", zap.Error(err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Server stopped")
	return nil
}
