package database

import (
	"context"
	"errors"

	"chat-server/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type GroupRepository interface {
	CreateGroup(ctx context.Context, name string, ownerID uuid.UUID) (*models.Group, error)
	GetGroupByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	ListUserGroups(ctx context.Context, userID uuid.UUID) ([]*models.Group, error)
}

type MembershipRepository interface {
	GetGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	AddMembership(ctx context.Context, userID, groupID uuid.UUID) error
	IsMember(ctx context.Context, userID, groupID uuid.UUID) (bool, error)
	GetGroupMembers(ctx context.Context, groupID uuid.UUID) ([]*models.Member, error)
}

type JoinRequestRepository interface {
	CreateJoinRequest(ctx context.Context, groupID, userID uuid.UUID) error
	// ResolveJoinRequest records the owner's decision on a pending request and,
	// when approved, adds the membership in the same transaction.
	ResolveJoinRequest(ctx context.Context, groupID, userID uuid.UUID, approved bool) error
	ListPendingJoinRequests(ctx context.Context, ownerID uuid.UUID) ([]*models.JoinRequest, error)
}

type MessageRepository interface {
	InsertDirectMessages(ctx context.Context, msgs []models.DirectChatMessage) error
	LoadDirectMessages(ctx context.Context, userID, peerID uuid.UUID, limit int) ([]*models.DirectChatMessage, error)
}

type Database interface {
	UserRepository
	GroupRepository
	MembershipRepository
	JoinRequestRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}
