package handlers

import (
	"context"
	"net/http"

	"chat-server/internal/auth"
	ws "chat-server/internal/websocket"
	"chat-server/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	hub         *ws.Hub
	// base outlives individual requests; pumps stop when it is cancelled.
	base     context.Context
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(base context.Context, authService *auth.Service, hub *ws.Hub) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		hub:         hub,
		base:        base,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	if err := h.hub.Login(r.Context(), userID, client); err != nil {
		logger.Error("Could not register connection for %s: %v", userID, err)
		conn.Close()
		return
	}

	// Start client pumps
	go client.WritePump()
	go client.ReadPump(h.base)
}
