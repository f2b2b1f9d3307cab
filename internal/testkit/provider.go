// Package testkit provides a fake tile provider for tests.
package testkit

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// PNG encodes a size×size image filled with c.
func PNG(size int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Provider is an httptest server that answers /{s}/{z}/{x}/{y}.png.
type Provider struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []string
	failing  map[string]int
	bodies   map[string][]byte
}

// NewProvider starts a provider that is closed when the test ends.
func NewProvider(t *testing.T) *Provider {
	t.Helper()
	p := &Provider{
		failing: make(map[string]int),
		bodies:  make(map[string][]byte),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Server.Close)
	return p
}

// Template is the URL template pointing at this provider.
func (p *Provider) Template() string {
	return p.Server.URL + "/{s}/{z}/{x}/{y}.png"
}

// Fail makes the tile "z/x/y" answer with status.
func (p *Provider) Fail(key string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[key] = status
}

// Serve makes the tile "z/x/y" answer with body instead of a generated PNG.
func (p *Provider) Serve(key string, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies[key] = body
}

// Requests returns the request paths received so far.
func (p *Provider) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

// RequestCount returns how many requests were received.
func (p *Provider) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *Provider) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	key := parts[1] + "/" + parts[2] + "/" + strings.TrimSuffix(parts[3], ".png")

	p.mu.Lock()
	p.requests = append(p.requests, r.URL.Path)
	status, failing := p.failing[key]
	body, custom := p.bodies[key]
	p.mu.Unlock()

	if failing {
		http.Error(w, "failure", status)
		return
	}
	if !custom {
		body = PNG(8, colorFor(key))
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(body)
}

func colorFor(key string) color.Color {
	var h uint32
	for _, b := range []byte(key) {
		h = h*31 + uint32(b)
	}
	return color.RGBA{R: uint8(h), G: uint8(h >> 8), B: uint8(h >> 16), A: 255}
}
