package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kubilitics/resourcemap/internal/service"
)

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	maps     service.ResourceMapService
	upgrader websocket.Upgrader
	ctx      context.Context
	log      *slog.Logger
}

// NewHandler creates a new WebSocket handler. Connections are bound to ctx.
func NewHandler(ctx context.Context, hub *Hub, maps service.ResourceMapService, allowedOrigins []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		hub:  hub,
		maps: maps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		ctx: ctx,
		log: log.With("component", "websocket"),
	}
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and origins on the allow list.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /ws/resourcemap?cluster=<id>&<view parameters>.
// The subscription is checked before upgrading so unknown clusters and bad
// views get a plain HTTP error.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clusterID := q.Get("cluster")
	q.Del("cluster")
	view, err := service.ParseViewState(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	clientCtx, clientCancel := context.WithCancel(h.ctx)
	watchCtx, watchCancel := context.WithCancel(clientCtx)
	updates, err := h.maps.Watch(watchCtx, clusterID, view)
	if err != nil {
		watchCancel()
		clientCancel()
		if errors.Is(err, service.ErrClusterNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		h.log.Error("failed to subscribe", "cluster", clusterID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		watchCancel()
		clientCancel()
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(clientCtx, clientCancel, h.hub, conn, h.maps, uuid.New().String(), clusterID, h.log)
	if !h.hub.Register(client) {
		watchCancel()
		clientCancel()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
	go client.StreamPump(updates, watchCancel)

	h.log.Info("websocket client connected", "client", client.id, "cluster", clusterID, "view", view.Encode())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
