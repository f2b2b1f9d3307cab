package vips_decoder

import (
	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"offlinetiles/internal/image_decoder"
)

// Startup initializes libvips and routes its warnings and errors to log.
// The returned function shuts libvips down.
func Startup(concurrency, maxCacheMB int, log *zap.Logger) (shutdown func()) {
	vipsConfig := &vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      maxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0, // Disable disk cache
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", maxCacheMB),
		zap.Int("concurrency", concurrency),
	)

	return vips.Shutdown
}

// Select returns the decoder named by kind ("std" or "vips") and the
// function that releases it. Choosing vips starts libvips.
func Select(kind string, concurrency, maxCacheMB int, log *zap.Logger) (image_decoder.Decoder, func()) {
	if kind != "vips" {
		return image_decoder.Std{}, func() {}
	}
	shutdown := Startup(concurrency, maxCacheMB, log)
	return New(log), shutdown
}
