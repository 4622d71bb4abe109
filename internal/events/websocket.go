package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// WebSocketHandler streams a session's lifecycle events to WebSocket clients.
type WebSocketHandler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a WebSocket handler over the given hub.
func NewWebSocketHandler(hub *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

// ServeHTTP upgrades the connection and forwards session events until the
// client disconnects or the request context ends.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin already checked above
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	slog.Info("event stream opened", "session_id", sessionID, "ip", r.RemoteAddr)

	eventsCh, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	// CloseRead surfaces client disconnects through context cancellation.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventsCh:
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("failed to marshal event", "session_id", sessionID, "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	if h.allowedOrigin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowed, err := url.Parse(h.allowedOrigin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, allowed.Host)
}
