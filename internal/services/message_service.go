package services

import (
	"context"

	"chat-server/internal/database"
	"chat-server/internal/models"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type MessageService struct {
	db database.MessageRepository
}

func NewMessageService(db database.MessageRepository) *MessageService {
	return &MessageService{db: db}
}

// History returns the direct conversation between two users, oldest first.
// Messages still waiting in the persistence buffer are not included.
func (s *MessageService) History(ctx context.Context, userID, peerID uuid.UUID, limit int) ([]*models.DirectChatMessage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.db.LoadDirectMessages(ctx, userID, peerID, limit)
}
