package handlers

import (
	"net/http"
	"strconv"

	"chat-server/internal/auth"
	"chat-server/internal/models"
	"chat-server/internal/services"
)

type MessageHandlers struct {
	messageService *services.MessageService
	authService    *auth.Service
}

func NewMessageHandlers(messageService *services.MessageService, authService *auth.Service) *MessageHandlers {
	return &MessageHandlers{
		messageService: messageService,
		authService:    authService,
	}
}

func (h *MessageHandlers) History(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	peerID, err := pathID(r, "peer_id")
	if err != nil {
		http.Error(w, "invalid peer ID", http.StatusBadRequest)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	messages, err := h.messageService.History(r.Context(), userID, peerID, limit)
	if err != nil {
		writeError(w, "Load history", err)
		return
	}
	if messages == nil {
		messages = []*models.DirectChatMessage{}
	}

	writeJSON(w, http.StatusOK, messages)
}
