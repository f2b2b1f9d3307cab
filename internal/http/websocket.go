package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"offlinetiles/internal/events"
)

const (
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 5 * time.Second
)

func (h *Handlers) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if h.config.AllowedOrigin != "" {
		u.CheckOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == h.config.AllowedOrigin
		}
	}
	return u
}

// HandleWebSocket streams the same events as HandleEvents, one JSON text
// message per event. Client messages are read and ignored.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ch := make(chan events.Event, eventBuffer)
	unsubscribe := h.manager.Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
			h.logger.Debug("Dropping event for slow client", zap.String("type", string(e.Type)))
		}
	})
	defer unsubscribe()

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				h.logger.Debug("WebSocket ping error", zap.Error(err))
				return
			}
		case e := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(newEventPayload(e)); err != nil {
				h.logger.Debug("WebSocket write error", zap.Error(err))
				return
			}
		}
	}
}
