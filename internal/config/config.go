package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"offlinetiles/internal/area_download"
	"offlinetiles/internal/cache"
	"offlinetiles/internal/tile"
	"offlinetiles/internal/tile_fetcher"
	"offlinetiles/internal/tile_grid"
)

type Config struct {
	Port    int    `env:"PORT" envDefault:"8080" yaml:"port"`
	DataDir string `env:"DATA_DIR" envDefault:"/data" yaml:"data_dir"`

	CacheType     string `env:"CACHE" envDefault:"sqlite" yaml:"cache"`
	StoreName     string `env:"STORE_NAME" envDefault:"offlineMapDB" yaml:"store_name"`
	TableName     string `env:"TABLE_NAME" envDefault:"tiles" yaml:"table_name"`
	SchemaVersion int    `env:"SCHEMA_VERSION" envDefault:"2" yaml:"schema_version"`

	MinZoom          int      `env:"MIN_ZOOM" envDefault:"12" yaml:"min_zoom"`
	MaxZoom          int      `env:"MAX_ZOOM" envDefault:"16" yaml:"max_zoom"`
	TileURLTemplate  string   `env:"TILE_URL_TEMPLATE" envDefault:"https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png" yaml:"tile_url_template"`
	Subdomains       []string `env:"SUBDOMAINS" envDefault:"a,b,c" envSeparator:"," yaml:"subdomains"`
	InterTileDelayMS int      `env:"INTER_TILE_DELAY_MS" envDefault:"100" yaml:"inter_tile_delay_ms"`
	MaxDownloadTiles int      `env:"MAX_DOWNLOAD_TILES" envDefault:"20000" yaml:"max_download_tiles"`
	WarmupBounds     string   `env:"WARMUP_BOUNDS" yaml:"warmup_bounds"`

	OfflineOnly  bool          `env:"OFFLINE_ONLY" envDefault:"false" yaml:"offline_only"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s" yaml:"fetch_timeout"`
	MaxTileBytes int64         `env:"MAX_TILE_BYTES" envDefault:"1048576" yaml:"max_tile_bytes"`
	UserAgent    string        `env:"USER_AGENT" envDefault:"offlinetiles/1.0" yaml:"user_agent"`

	TileDecoder     string `env:"TILE_DECODER" envDefault:"std" yaml:"tile_decoder"`
	VipsConcurrency int    `env:"VIPS_CONCURRENCY" envDefault:"1" yaml:"vips_concurrency"`
	VipsMaxCacheMB  int    `env:"VIPS_MAX_CACHE_MB" envDefault:"256" yaml:"vips_max_cache_mb"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" yaml:"allowed_origin"`
}

// Load builds the configuration in three layers: envDefault tags, then
// CONFIG_FILE when set, then environment variables that are actually present.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to apply defaults")
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// No default tag on this pass, so unset variables leave the field alone.
	if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "-"}); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse config file")
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if err := c.Zoom().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(c.TileURLTemplate) == "" {
		problems = append(problems, "tile url template is empty")
	} else {
		for _, p := range []string{"{z}", "{x}", "{y}"} {
			if !strings.Contains(c.TileURLTemplate, p) {
				problems = append(problems, "tile url template lacks "+p)
			}
		}
		if strings.Contains(c.TileURLTemplate, "{s}") && len(c.Subdomains) == 0 {
			problems = append(problems, "tile url template uses {s} but no subdomains are set")
		}
	}
	switch c.CacheType {
	case "sqlite", "file", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown cache type %q", c.CacheType))
	}
	if c.StoreName == "" {
		problems = append(problems, "store name is empty")
	}
	if !cache.ValidTableName(c.TableName) {
		problems = append(problems, fmt.Sprintf("invalid table name %q", c.TableName))
	}
	if c.SchemaVersion < 1 || c.SchemaVersion > cache.LatestSchemaVersion {
		problems = append(problems, fmt.Sprintf("schema version %d outside 1..%d", c.SchemaVersion, cache.LatestSchemaVersion))
	}
	if c.InterTileDelayMS < 0 {
		problems = append(problems, "inter tile delay is negative")
	}
	if c.MaxDownloadTiles <= 0 || c.MaxDownloadTiles > area_download.MaxTilesCeiling {
		problems = append(problems, fmt.Sprintf("max download tiles %d outside 1..%d", c.MaxDownloadTiles, area_download.MaxTilesCeiling))
	}
	if c.FetchTimeout <= 0 {
		problems = append(problems, "fetch timeout must be positive")
	}
	switch c.TileDecoder {
	case "std", "vips":
	default:
		problems = append(problems, fmt.Sprintf("unknown tile decoder %q", c.TileDecoder))
	}
	if _, _, err := c.WarmupArea(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidConfig, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Zoom() tile.ZoomRange {
	return tile.ZoomRange{Min: c.MinZoom, Max: c.MaxZoom}
}

func (c *Config) InterTileDelay() time.Duration {
	return time.Duration(c.InterTileDelayMS) * time.Millisecond
}

func (c *Config) StoreOptions() cache.Options {
	return cache.Options{
		Type:          c.CacheType,
		DataDir:       c.DataDir,
		StoreName:     c.StoreName,
		TableName:     c.TableName,
		SchemaVersion: c.SchemaVersion,
	}
}

func (c *Config) FetcherOptions() tile_fetcher.Options {
	return tile_fetcher.Options{
		URLTemplate:  c.TileURLTemplate,
		Subdomains:   c.Subdomains,
		Timeout:      c.FetchTimeout,
		MaxTileBytes: c.MaxTileBytes,
		UserAgent:    c.UserAgent,
	}
}

func (c *Config) DownloadOptions() area_download.Options {
	return area_download.Options{
		Zoom:     c.Zoom(),
		Delay:    c.InterTileDelay(),
		MaxTiles: c.MaxDownloadTiles,
	}
}

// WarmupArea parses WARMUP_BOUNDS ("north,south,east,west"). ok is false
// when no warmup area is configured.
func (c *Config) WarmupArea() (b tile_grid.Bounds, ok bool, err error) {
	if strings.TrimSpace(c.WarmupBounds) == "" {
		return tile_grid.Bounds{}, false, nil
	}
	b, err = ParseBounds(c.WarmupBounds)
	if err != nil {
		return tile_grid.Bounds{}, false, err
	}
	return b, true, nil
}

// ParseBounds parses "north,south,east,west" in degrees.
func ParseBounds(s string) (tile_grid.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tile_grid.Bounds{}, fmt.Errorf("bounds %q: expected north,south,east,west", s)
	}

	values := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return tile_grid.Bounds{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		values[i] = v
	}

	b := tile_grid.NewBounds(values[0], values[1], values[2], values[3])
	if err := b.Validate(); err != nil {
		return tile_grid.Bounds{}, fmt.Errorf("bounds %q: %w", s, err)
	}
	return b, nil
}
