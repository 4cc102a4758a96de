package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnshRaj112/appshelf-backend/internal/catalog"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 30 * time.Second
)

// EventSnapshot is the first message on a stream: the full current list.
const EventSnapshot catalog.EventType = "catalog.snapshot"

// StreamMessage is one frame on the catalog stream.
type StreamMessage struct {
	catalog.Event
	Tools []models.Tool `json:"tools,omitempty"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range h.AllowedOrigins {
				if strings.EqualFold(strings.TrimSpace(o), origin) {
					return true
				}
			}
			return false
		},
	}
}

// CatalogStream pushes the member's catalog events over WebSocket. The
// first frame is a snapshot; later frames are controller events, including
// ones forwarded from other instances. A reloaded event means the client
// should refetch. Slow clients miss events rather than stall the catalog.
func (h *Handler) CatalogStream(w http.ResponseWriter, r *http.Request) {
	m, ok := models.IsMember(middleware.PrincipalFrom(r.Context()))
	if !ok {
		respondError(w, http.StatusUnauthorized, "Sign in with an account to continue")
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.Log.Debug("websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	if h.Metrics != nil {
		h.Metrics.WSConnectionsActive.Inc()
		defer h.Metrics.WSConnectionsActive.Dec()
	}

	ctrl := h.Catalogs.Owner(m.UID)
	loadCtx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	ctrl.Tools(loadCtx)
	cancel()

	// Subscribe before taking the snapshot so no change falls between them.
	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	snapshot := ctrl.Snapshot()
	if snapshot == nil {
		snapshot = []models.Tool{}
	}
	first := StreamMessage{
		Event: catalog.Event{Type: EventSnapshot, OwnerID: m.UID, Timestamp: time.Now().UTC()},
		Tools: snapshot,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	// Reader: the client only sends pings and close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4 * 1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "catalog closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(StreamMessage{Event: ev}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
