package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"offlinetiles/internal/events"
)

const (
	eventBuffer       = 64
	keepAliveInterval = 15 * time.Second
)

type eventPayload struct {
	Type      events.Type `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Completed int         `json:"completed,omitempty"`
	Total     int         `json:"total,omitempty"`
	Tile      string      `json:"tile,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func newEventPayload(e events.Event) eventPayload {
	p := eventPayload{
		Type:      e.Type,
		SessionID: e.SessionID,
		Completed: e.Completed,
		Total:     e.Total,
	}
	if e.Coord != nil {
		p.Tile = e.Coord.String()
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	return p
}

// HandleEvents streams manager events as Server-Sent Events until the client leaves.
// Events are dropped for clients that fall more than eventBuffer behind.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rc := http.NewResponseController(w)

	ch := make(chan events.Event, eventBuffer)
	unsubscribe := h.manager.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
			h.logger.Debug("Dropping event for slow client", zap.String("type", string(e.Type)))
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("Event stream not supported", zap.Error(err))
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case e := <-ch:
			data, err := json.Marshal(newEventPayload(e))
			if err != nil {
				h.logger.Error("Failed to encode event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
