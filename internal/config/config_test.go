package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinetiles/internal/area_download"
	"offlinetiles/internal/tile"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.CacheType)
	assert.Equal(t, "offlineMapDB", cfg.StoreName)
	assert.Equal(t, "tiles", cfg.TableName)
	assert.Equal(t, 2, cfg.SchemaVersion)
	assert.Equal(t, tile.ZoomRange{Min: 12, Max: 16}, cfg.Zoom())
	assert.Equal(t, "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png", cfg.TileURLTemplate)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Subdomains)
	assert.Equal(t, 100*time.Millisecond, cfg.InterTileDelay())
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, int64(1048576), cfg.MaxTileBytes)
	assert.Equal(t, 20000, cfg.MaxDownloadTiles)
	assert.Equal(t, "std", cfg.TileDecoder)
	assert.False(t, cfg.OfflineOnly)
	assert.Empty(t, cfg.WarmupBounds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MIN_ZOOM", "10")
	t.Setenv("SUBDOMAINS", "x,y")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("OFFLINE_ONLY", "true")
	t.Setenv("CACHE", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MinZoom)
	assert.Equal(t, []string{"x", "y"}, cfg.Subdomains)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.True(t, cfg.OfflineOnly)
	assert.Equal(t, "memory", cfg.StoreOptions().Type)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offlinetiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
max_zoom: 14
subdomains: [q]
fetch_timeout: 5s
offline_only: true
warmup_bounds: "35.70,35.68,51.44,51.38"
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 14, cfg.MaxZoom)
	assert.Equal(t, 12, cfg.MinZoom)
	assert.Equal(t, []string{"q"}, cfg.Subdomains)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.True(t, cfg.OfflineOnly)

	b, ok, err := cfg.WarmupArea()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orb.Point{51.44, 35.70}, b.NorthEast)
}

func TestLoad_FileKeepsExplicitZeroes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offlinetiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
min_zoom: 0
max_zoom: 2
inter_tile_delay_ms: 0
`), 0o644))

	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, tile.ZoomRange{Min: 0, Max: 2}, cfg.Zoom())
	assert.Equal(t, time.Duration(0), cfg.InterTileDelay())
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_EnvBeatsFileForEveryField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offlinetiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
min_zoom: 3
cache: file
fetch_timeout: 5s
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MIN_ZOOM", "0")
	t.Setenv("CACHE", "memory")
	t.Setenv("FETCH_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.MinZoom)
	assert.Equal(t, "memory", cfg.CacheType)
	assert.Equal(t, 2*time.Second, cfg.FetchTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestLoad_InvalidZoomRange(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MIN_ZOOM", "17")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
	assert.ErrorContains(t, err, "min zoom 17")
}

func valid() *Config {
	return &Config{
		Port:             8080,
		CacheType:        "sqlite",
		StoreName:        "offlineMapDB",
		TableName:        "tiles",
		SchemaVersion:    2,
		MinZoom:          12,
		MaxZoom:          16,
		TileURLTemplate:  "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Subdomains:       []string{"a"},
		MaxDownloadTiles: 20000,
		FetchTimeout:     10 * time.Second,
		TileDecoder:      "std",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"port":             func(c *Config) { c.Port = 0 },
		"empty template":   func(c *Config) { c.TileURLTemplate = " " },
		"template lacks z": func(c *Config) { c.TileURLTemplate = "https://tiles/{x}/{y}.png" },
		"no subdomains":    func(c *Config) { c.Subdomains = nil },
		"cache type":       func(c *Config) { c.CacheType = "redis" },
		"store name":       func(c *Config) { c.StoreName = "" },
		"table name":       func(c *Config) { c.TableName = "tiles; DROP" },
		"schema version":   func(c *Config) { c.SchemaVersion = 3 },
		"negative delay":   func(c *Config) { c.InterTileDelayMS = -1 },
		"decoder":          func(c *Config) { c.TileDecoder = "magick" },
		"max zoom":         func(c *Config) { c.MaxZoom = 31 },
		"warmup bounds":    func(c *Config) { c.WarmupBounds = "1,2,3" },
		"no tile limit":    func(c *Config) { c.MaxDownloadTiles = 0 },
		"huge tile limit":  func(c *Config) { c.MaxDownloadTiles = area_download.MaxTilesCeiling + 1 },
		"no fetch timeout": func(c *Config) { c.FetchTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}

func TestValidate_TemplateWithoutSubdomainPlaceholder(t *testing.T) {
	c := valid()
	c.TileURLTemplate = "https://tiles.example.com/{z}/{x}/{y}.png"
	c.Subdomains = nil
	assert.NoError(t, c.Validate())
}

func TestParseBounds(t *testing.T) {
	b, err := ParseBounds("35.70, 35.68, 51.44, 51.38")
	require.NoError(t, err)
	assert.Equal(t, orb.Point{51.44, 35.70}, b.NorthEast)
	assert.Equal(t, orb.Point{51.38, 35.68}, b.SouthWest)

	_, err = ParseBounds("35.70,35.68,51.44")
	assert.Error(t, err)
	_, err = ParseBounds("north,35.68,51.44,51.38")
	assert.Error(t, err)
	_, err = ParseBounds("95,35.68,51.44,51.38")
	assert.Error(t, err)
}

func TestDerivedOptions(t *testing.T) {
	c := valid()
	c.DataDir = "/tmp/tiles"
	c.InterTileDelayMS = 250
	c.MaxDownloadTiles = 50
	c.FetchTimeout = time.Second
	c.UserAgent = "test/1.0"

	store := c.StoreOptions()
	assert.Equal(t, "/tmp/tiles", store.DataDir)
	assert.Equal(t, "tiles", store.TableName)
	assert.Equal(t, 2, store.SchemaVersion)

	fetch := c.FetcherOptions()
	assert.Equal(t, c.TileURLTemplate, fetch.URLTemplate)
	assert.Equal(t, time.Second, fetch.Timeout)
	assert.Equal(t, "test/1.0", fetch.UserAgent)

	dl := c.DownloadOptions()
	assert.Equal(t, 250*time.Millisecond, dl.Delay)
	assert.Equal(t, 50, dl.MaxTiles)
	assert.Equal(t, tile.ZoomRange{Min: 12, Max: 16}, dl.Zoom)
}
