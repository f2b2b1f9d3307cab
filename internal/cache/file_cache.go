package cache

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"offlinetiles/internal/tile"
)

const fileCacheExt = ".tile"

// FileCache implements file-based storage.
// Structure: {cacheDir}/{z}/{x}/{y}.tile, each file holding "{content type}\n{payload}".
type FileCache struct {
	*readiness

	mu       sync.RWMutex
	cacheDir string
}

func NewFileCache(cacheDir string) *FileCache {
	return &FileCache{
		readiness: newReadiness(),
		cacheDir:  cacheDir,
	}
}

func (c *FileCache) Open(ctx context.Context) error {
	return c.resolve(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(c.cacheDir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
		return nil
	})
}

// buildFilePath builds file path from tile coordinate
func (c *FileCache) buildFilePath(coord tile.Coord) string {
	dir := filepath.Join(c.cacheDir, strconv.Itoa(coord.Z), strconv.Itoa(coord.X))
	return filepath.Join(dir, strconv.Itoa(coord.Y)+fileCacheExt)
}

func (c *FileCache) Get(ctx context.Context, coord tile.Coord) (*StoredTile, bool, error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	filePath := c.buildFilePath(coord)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ioError(err, "get", tile.Key(coord))
	}

	contentType, payload, ok := bytes.Cut(data, []byte("\n"))
	if !ok {
		return nil, false, ioError(fmt.Errorf("corrupt tile file %s", filePath), "get", tile.Key(coord))
	}

	t := &StoredTile{ContentType: string(contentType), Data: payload}
	if info, err := os.Stat(filePath); err == nil {
		t.UpdatedAt = info.ModTime().UTC()
	}
	return t, true, nil
}

func (c *FileCache) Put(ctx context.Context, coord tile.Coord, t StoredTile) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if strings.Contains(t.ContentType, "\n") {
		return ioError(fmt.Errorf("content type contains a newline"), "put", tile.Key(coord))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	filePath := c.buildFilePath(coord)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return ioError(err, "put", tile.Key(coord))
	}

	buf := make([]byte, 0, len(t.ContentType)+1+len(t.Data))
	buf = append(buf, t.ContentType...)
	buf = append(buf, '\n')
	buf = append(buf, t.Data...)

	// Write atomically
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, buf, 0644); err != nil {
		os.Remove(tmpPath)
		return ioError(err, "put", tile.Key(coord))
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return ioError(err, "put", tile.Key(coord))
	}

	return nil
}

func (c *FileCache) Clear(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.cacheDir); err != nil {
		return ioError(err, "clear", "")
	}

	if err := os.MkdirAll(c.cacheDir, 0755); err != nil {
		return ioError(err, "clear", "")
	}
	return nil
}

func (c *FileCache) SizeBytes(ctx context.Context) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	err := filepath.WalkDir(c.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != fileCacheExt {
			return nil
		}

		n, err := payloadSize(path)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, ioError(err, "size", "")
	}

	return total, nil
}

// payloadSize is the file size minus the content type header line.
func payloadSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	header, err := bufio.NewReader(f).ReadSlice('\n')
	if err != nil {
		return 0, fmt.Errorf("corrupt tile file %s: %w", path, err)
	}

	return info.Size() - int64(len(header)), nil
}

func (c *FileCache) Close() error {
	c.abandon()
	return nil
}
