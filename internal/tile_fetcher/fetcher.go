package tile_fetcher

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"

	"offlinetiles/internal/cache"
	"offlinetiles/internal/image_decoder"
	"offlinetiles/internal/tile"
)

// Options configures how tiles are requested from the provider.
type Options struct {
	// URLTemplate may contain {s}, {z}, {x} and {y}.
	URLTemplate  string
	Subdomains   []string
	Timeout      time.Duration
	MaxTileBytes int64
	UserAgent    string
}

// Fetcher downloads single tiles from the provider.
type Fetcher struct {
	opts    Options
	client  *http.Client
	decoder image_decoder.Decoder

	// pick returns a uniform index in [0, n). Replaced in tests.
	pick func(n int) int
}

// NewHTTPClient returns the client used for provider requests.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func New(opts Options, decoder image_decoder.Decoder, client *http.Client) *Fetcher {
	if client == nil {
		client = NewHTTPClient(opts.Timeout)
	}
	if decoder == nil {
		decoder = image_decoder.Std{}
	}
	return &Fetcher{
		opts:    opts,
		client:  client,
		decoder: decoder,
		pick:    rand.IntN,
	}
}

// URL substitutes the coordinate into the template. {s} is replaced by a
// randomly chosen subdomain to spread load across the provider's mirrors.
func (f *Fetcher) URL(c tile.Coord) string {
	subdomain := ""
	if n := len(f.opts.Subdomains); n > 0 {
		subdomain = f.opts.Subdomains[f.pick(n)]
	}

	r := strings.NewReplacer(
		"{s}", subdomain,
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	)
	return r.Replace(f.opts.URLTemplate)
}

// NetworkError wraps a failed provider request.
func NetworkError(err error, url string) error {
	return errors.WrapWithContext(err, errors.CodeNetwork, "tile fetch failed", map[string]interface{}{"url": url})
}

// IsNetworkError reports whether err came from the provider request itself.
func IsNetworkError(err error) bool {
	return errors.GetCode(err) == errors.CodeNetwork
}

// Fetch downloads one tile and converts it into its stored form.
// Errors are either network errors or decode errors.
func (f *Fetcher) Fetch(ctx context.Context, c tile.Coord) (cache.StoredTile, error) {
	url := f.URL(c)

	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cache.StoredTile{}, NetworkError(err, url)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return cache.StoredTile{}, NetworkError(err, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cache.StoredTile{}, NetworkError(fmt.Errorf("unexpected status: %s", resp.Status), url)
	}

	body := io.Reader(resp.Body)
	if f.opts.MaxTileBytes > 0 {
		body = io.LimitReader(resp.Body, f.opts.MaxTileBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return cache.StoredTile{}, NetworkError(fmt.Errorf("failed to read body: %w", err), url)
	}
	if f.opts.MaxTileBytes > 0 && int64(len(data)) > f.opts.MaxTileBytes {
		return cache.StoredTile{}, NetworkError(fmt.Errorf("tile larger than %d bytes", f.opts.MaxTileBytes), url)
	}

	contentType, err := f.decoder.Decode(data)
	if err != nil {
		return cache.StoredTile{}, err
	}

	return cache.StoredTile{
		ContentType: contentType,
		Data:        data,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}
