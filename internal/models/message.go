package models

import (
	"time"

	"github.com/google/uuid"
)

// DirectChatMessage is the stored form of a direct chat event.
type DirectChatMessage struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Message    string    `json:"message"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewDirectChatMessage(resp DirectChatMessageResponse) DirectChatMessage {
	return DirectChatMessage{
		ID:         resp.ID,
		SenderID:   resp.SenderID,
		ReceiverID: resp.ReceiverID,
		Message:    resp.Message,
		Read:       resp.Read,
		CreatedAt:  resp.CreatedAt,
	}
}
