package http

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"offlinetiles/internal/tile"
	"offlinetiles/internal/tile_source"
)

// HandleTile serves /tiles/{z}/{x}/{y}.png through the map layer.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/tiles/")
	tileParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(tileParts) != 3 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	var z, x, y int
	if _, err := fmt.Sscanf(tileParts[0], "%d", &z); err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	if _, err := fmt.Sscanf(tileParts[1], "%d", &x); err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}

	tileFile := tileParts[2]
	ext := filepath.Ext(tileFile)
	if _, err := fmt.Sscanf(strings.TrimSuffix(tileFile, ext), "%d", &y); err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}
	if ext != ".png" {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}

	c := tile.Coord{X: x, Y: y, Z: z}
	if !h.config.Zoom().Contains(z) {
		http.Error(w, "Zoom level outside the configured range", http.StatusBadRequest)
		return
	}
	if !c.InGrid() {
		http.Error(w, "Coordinates outside the tile grid", http.StatusBadRequest)
		return
	}

	result, generation, ok := h.layer.ProvideTile(r.Context(), c)
	if !ok {
		http.Error(w, "Tile source not ready", http.StatusServiceUnavailable)
		return
	}

	etag := `"` + result.ETag + "-" + strconv.FormatUint(generation, 10) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Tile-Source", string(result.Origin))
	if result.Origin == tile_source.OriginPlaceholder {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Tile-Bytes", strconv.Itoa(len(result.Data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(result.Data)
}
