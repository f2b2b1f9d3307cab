package cache

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Options selects and locates the tile store backend.
type Options struct {
	Type          string
	DataDir       string
	StoreName     string
	TableName     string
	SchemaVersion int
}

// NewStore creates a store instance based on the cache type. The store still has to be opened.
func NewStore(opts Options, log *zap.Logger) (Store, error) {
	switch opts.Type {
	case "sqlite":
		path := filepath.Join(opts.DataDir, opts.StoreName+".db")
		log.Info("Using sqlite tile store", zap.String("path", path), zap.String("table", opts.TableName))
		return NewSQLiteCache(path, opts.TableName, opts.SchemaVersion, log), nil
	case "file":
		dir := filepath.Join(opts.DataDir, opts.StoreName)
		log.Info("Using file tile store", zap.String("cache_dir", dir))
		return NewFileCache(dir), nil
	case "memory":
		log.Info("Using memory tile store")
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: sqlite, file, memory)", opts.Type)
	}
}
