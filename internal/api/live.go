package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/chat"
)

const liveWriteTimeout = 10 * time.Second

// liveMessage is the frame exchanged on /ws.
type liveMessage struct {
	Type string `json:"type"`
	HTML string `json:"html,omitempty"`
}

// Live upgrades to a WebSocket and pushes the re-rendered #app fragment
// after every state change of the device's controller.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	deviceID := ctrl.DeviceID()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, deviceID)
	}()

	slog.Debug("Live view connected", "device_id", deviceID)
	if err := h.push(ctx, ws, ctrl); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Live view disconnected", "device_id", deviceID)
			return
		case <-updates:
			if err := h.push(ctx, ws, ctrl); err != nil {
				slog.Debug("Live view push failed", "error", err, "device_id", deviceID)
				return
			}
		}
	}
}

func (h *Handler) push(ctx context.Context, ws *websocket.Conn, ctrl *chat.Controller) error {
	html, err := h.renderString("app", h.buildView(ctrl.Snapshot()))
	if err != nil {
		slog.Error("template render failed", "template", "app", "error", err)
		return err
	}
	return writeJSON(ctx, ws, liveMessage{Type: "render", HTML: html})
}

// readLoop answers pings until the client goes away.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, deviceID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("WebSocket read error", "error", err, "device_id", deviceID)
			}
			return
		}

		var msg liveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, liveMessage{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
