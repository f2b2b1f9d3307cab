package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"offlinetiles/internal/area_download"
	"offlinetiles/internal/cache"
	"offlinetiles/internal/offline"
	"offlinetiles/internal/tile_grid"
)

type downloadRequest struct {
	North *float64 `json:"north"`
	South *float64 `json:"south"`
	East  *float64 `json:"east"`
	West  *float64 `json:"west"`
}

type cacheResponse struct {
	Bytes     int64   `json:"bytes"`
	Megabytes float64 `json:"megabytes"`
	Human     string  `json:"human"`
}

type offlineMode struct {
	Enabled *bool `json:"enabled"`
}

const maxRequestBody = 1 << 16

// HandleDownloads lists sessions (GET) or starts a download (POST).
func (h *Handlers) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions := h.manager.Sessions()
		snapshots := make([]area_download.Snapshot, 0, len(sessions))
		for _, s := range sessions {
			snapshots = append(snapshots, s.Snapshot())
		}
		writeJSON(w, http.StatusOK, snapshots)
	case http.MethodPost:
		h.startDownload(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) startDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.North == nil || req.South == nil || req.East == nil || req.West == nil {
		http.Error(w, "north, south, east and west are required", http.StatusBadRequest)
		return
	}

	bounds := tile_grid.NewBounds(*req.North, *req.South, *req.East, *req.West)
	session, err := h.manager.StartDownload(bounds)
	if err != nil {
		if area_download.IsInvalidArea(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if cache.IsUnavailable(err) {
			http.Error(w, "Tile store unavailable", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Failed to start download", zap.Error(err))
		http.Error(w, "Failed to start download", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/downloads/"+session.ID)
	writeJSON(w, http.StatusAccepted, session.Snapshot())
}

// HandleDownloadRoutes serves /api/downloads/{id}: GET reports, DELETE cancels.
func (h *Handlers) HandleDownloadRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/downloads/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, ok := h.manager.Session(id)
		if !ok {
			http.Error(w, "Download not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, session.Snapshot())
	case http.MethodDelete:
		if err := h.manager.CancelDownload(id); err != nil {
			if errors.GetCode(err) == errors.CodeNotFound {
				http.Error(w, "Download not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleCache reports (GET) or clears (DELETE) the tile store.
func (h *Handlers) HandleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		size, err := h.manager.CacheSizeBytes(r.Context())
		if err != nil {
			h.storeError(w, "Failed to compute cache size", err)
			return
		}
		writeJSON(w, http.StatusOK, cacheResponse{
			Bytes:     size,
			Megabytes: offline.BytesToMB(size),
			Human:     humanize.IBytes(uint64(size)),
		})
	case http.MethodDelete:
		if err := h.manager.ClearCache(r.Context()); err != nil {
			h.storeError(w, "Failed to clear cache", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) storeError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	if cache.IsUnavailable(err) {
		http.Error(w, "Tile store unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, msg, http.StatusInternalServerError)
}

// HandleOffline reads (GET) or sets (PUT) offline-only mode.
func (h *Handlers) HandleOffline(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req offlineMode
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || req.Enabled == nil {
			http.Error(w, `Body must be {"enabled": true|false}`, http.StatusBadRequest)
			return
		}
		h.manager.ToggleOfflineMode(*req.Enabled)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	enabled := h.manager.OfflineOnly()
	writeJSON(w, http.StatusOK, offlineMode{Enabled: &enabled})
}
