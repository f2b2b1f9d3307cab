package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"offlinetiles/internal/tile"
)

func userVersion(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var v int
	require.NoError(t, db.QueryRow(`PRAGMA user_version`).Scan(&v))
	return v
}

func TestSQLiteCache_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "offlineMapDB.db")
	s := NewSQLiteCache(path, "tiles", 2, zap.NewNop())
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Close())

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, 2, userVersion(t, path))
}

func TestSQLiteCache_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offlineMapDB.db")
	c := tile.Coord{X: 2633, Y: 1612, Z: 12}

	s := NewSQLiteCache(path, "tiles", 2, zap.NewNop())
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Put(ctx, c, StoredTile{ContentType: "image/webp", Data: []byte("persisted")}))
	require.NoError(t, s.Close())

	s = NewSQLiteCache(path, "tiles", 2, zap.NewNop())
	require.NoError(t, s.Open(ctx))
	defer s.Close()

	got, ok, err := s.Get(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got.Data)
	assert.Equal(t, "image/webp", got.ContentType)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteCache_UpgradeKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offlineMapDB.db")
	c := tile.Coord{X: 10, Y: 20, Z: 6}

	v1 := NewSQLiteCache(path, "tiles", 1, zap.NewNop())
	require.NoError(t, v1.Open(ctx))
	require.NoError(t, v1.Put(ctx, c, pngTile("from-v1")))

	got, ok, err := v1.Get(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "image/png", got.ContentType)
	require.NoError(t, v1.Close())
	assert.Equal(t, 1, userVersion(t, path))

	v2 := NewSQLiteCache(path, "tiles", 2, zap.NewNop())
	require.NoError(t, v2.Open(ctx))
	defer v2.Close()
	assert.Equal(t, 2, userVersion(t, path))

	got, ok, err = v2.Get(ctx, c)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("from-v1"), got.Data)
	assert.Equal(t, "image/png", got.ContentType)
	assert.True(t, got.UpdatedAt.IsZero())
}

func TestSQLiteCache_NewerSchemaFailsToOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offlineMapDB.db")

	v2 := NewSQLiteCache(path, "tiles", 2, zap.NewNop())
	require.NoError(t, v2.Open(ctx))
	require.NoError(t, v2.Close())

	v1 := NewSQLiteCache(path, "tiles", 1, zap.NewNop())
	err := v1.Open(ctx)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	// later operations report the same failure instead of blocking
	_, _, err = v1.Get(ctx, tile.Coord{})
	assert.True(t, IsUnavailable(err))
	assert.NoError(t, v1.Close())
}

func TestSQLiteCache_InvalidTableName(t *testing.T) {
	s := NewSQLiteCache(filepath.Join(t.TempDir(), "x.db"), "tiles; DROP TABLE x", 2, zap.NewNop())
	err := s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestSQLiteCache_UnsupportedSchemaVersion(t *testing.T) {
	for _, v := range []int{0, LatestSchemaVersion + 1} {
		s := NewSQLiteCache(filepath.Join(t.TempDir(), "x.db"), "tiles", v, zap.NewNop())
		assert.Error(t, s.Open(context.Background()))
	}
}

func TestSQLiteCache_CustomTable(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteCache(filepath.Join(t.TempDir(), "x.db"), "osm_tiles", 2, zap.NewNop())
	require.NoError(t, s.Open(ctx))
	defer s.Close()

	require.NoError(t, s.Put(ctx, tile.Coord{X: 1, Y: 1, Z: 1}, pngTile("abc")))
	size, err := s.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestSQLiteCache_IOErrorAfterClose(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteCache(filepath.Join(t.TempDir(), "x.db"), "tiles", 2, zap.NewNop())
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Close())

	err := s.Put(ctx, tile.Coord{X: 1, Y: 1, Z: 1}, pngTile("abc"))
	require.Error(t, err)
	assert.True(t, IsIOError(err))
}
