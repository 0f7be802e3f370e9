package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat-server/internal/database"
	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// EventSubmitter hands control events to the router.
type EventSubmitter interface {
	Inbound(ctx context.Context, event models.Request) error
}

// PresenceReader answers which of the given users are connected.
type PresenceReader interface {
	OnlineAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

type GroupStore interface {
	database.GroupRepository
	database.MembershipRepository
	database.JoinRequestRepository
}

type GroupService struct {
	db       GroupStore
	events   EventSubmitter
	presence PresenceReader
}

func NewGroupService(db GroupStore, events EventSubmitter, presence PresenceReader) *GroupService {
	return &GroupService{db: db, events: events, presence: presence}
}

func (s *GroupService) CreateGroup(ctx context.Context, req *models.NewGroupRequest, ownerID uuid.UUID) (*models.Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}

	group, err := s.db.CreateGroup(ctx, name, ownerID)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, models.CreateGroupRequest{SenderID: ownerID, GroupID: group.ID, Name: group.Name})
	return group, nil
}

func (s *GroupService) ListUserGroups(ctx context.Context, userID uuid.UUID) ([]*models.Group, error) {
	return s.db.ListUserGroups(ctx, userID)
}

func (s *GroupService) GetGroupMembers(ctx context.Context, groupID, userID uuid.UUID) ([]*models.Member, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	members, err := s.db.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	online, err := s.presence.OnlineAmong(ctx, ids)
	if err != nil {
		// Membership is still useful without presence.
		logger.Warn("Presence lookup failed for group %s: %v", groupID, err)
		return members, nil
	}
	markOnline(members, online)
	return members, nil
}

// GetActiveMembers returns the members of the group that are connected.
func (s *GroupService) GetActiveMembers(ctx context.Context, groupID, userID uuid.UUID) ([]*models.Member, error) {
	if err := s.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	members, err := s.db.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	online, err := s.presence.OnlineAmong(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("presence lookup: %w", err)
	}
	markOnline(members, online)

	active := make([]*models.Member, 0, len(online))
	for _, m := range members {
		if m.Online {
			active = append(active, m)
		}
	}
	return active, nil
}

// RequestJoin records a pending join request and notifies the group owner.
func (s *GroupService) RequestJoin(ctx context.Context, groupID, userID uuid.UUID) error {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}

	isMember, err := s.db.IsMember(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if isMember {
		return fmt.Errorf("%w: already a member", ErrConflict)
	}

	if err := s.db.CreateJoinRequest(ctx, groupID, userID); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return fmt.Errorf("%w: request already pending", ErrConflict)
		}
		return err
	}

	s.emit(ctx, models.JoinGroupRequest{SenderID: userID, GroupOwnerID: group.OwnerID, GroupID: groupID})
	return nil
}

// ResolveJoin stores the owner's decision and notifies the candidate. Only
// the group owner may resolve requests.
func (s *GroupService) ResolveJoin(ctx context.Context, groupID, ownerID, candidateID uuid.UUID, approved bool) error {
	group, err := s.getGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID != ownerID {
		return ErrForbidden
	}

	if err := s.db.ResolveJoinRequest(ctx, groupID, candidateID, approved); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: no pending request", ErrNotFound)
		}
		return err
	}

	s.emit(ctx, models.ApproveJoin{CandidateID: candidateID, SenderID: ownerID, Approved: approved, GroupID: groupID})
	return nil
}

func (s *GroupService) PendingJoinRequests(ctx context.Context, ownerID uuid.UUID) ([]*models.JoinRequest, error) {
	return s.db.ListPendingJoinRequests(ctx, ownerID)
}

func (s *GroupService) getGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	group, err := s.db.GetGroupByID(ctx, groupID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: group", ErrNotFound)
	}
	return group, err
}

func (s *GroupService) requireMember(ctx context.Context, groupID, userID uuid.UUID) error {
	isMember, err := s.db.IsMember(ctx, userID, groupID)
	if err != nil {
		return err
	}
	if !isMember {
		return ErrForbidden
	}
	return nil
}

// emit forwards a control event. The durable change has already happened, so
// a router failure only costs the live notification.
func (s *GroupService) emit(ctx context.Context, event models.Request) {
	if err := s.events.Inbound(ctx, event); err != nil {
		logger.Warn("Could not notify router of %s: %v", event.Kind(), err)
	}
}

func markOnline(members []*models.Member, online []uuid.UUID) {
	set := make(map[uuid.UUID]struct{}, len(online))
	for _, id := range online {
		set[id] = struct{}{}
	}
	for _, m := range members {
		_, m.Online = set[m.ID]
	}
}
