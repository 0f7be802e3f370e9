package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags an event variant on the wire and at dispatch sites.
type Kind string

const (
	KindDirectChat  Kind = "direct_chat_message"
	KindGroupChat   Kind = "group_chat_message"
	KindAddItems    Kind = "add_items"
	KindRemoveItems Kind = "remove_items"
	KindJoinGroup   Kind = "join_group"
	KindApproveJoin Kind = "approve_join"
	KindCreateGroup Kind = "create_group"
)

// Durable reports whether events of this kind belong to the conversation
// history. Join requests, approvals and group creation are control events.
func (k Kind) Durable() bool {
	switch k {
	case KindJoinGroup, KindApproveJoin, KindCreateGroup:
		return false
	default:
		return true
	}
}

// Request is an event as submitted by a client. The set of implementations is
// closed to this package.
type Request interface {
	Kind() Kind
	Sender() uuid.UUID
	Validate() error
	isRequest()
}

// Response is an event as distributed to recipients, carrying server-assigned
// fields.
type Response interface {
	Kind() Kind
	Sender() uuid.UUID
	EventID() uuid.UUID
	isResponse()
}

// GroupScoped is implemented by events addressed to every member of a group.
type GroupScoped interface {
	Group() uuid.UUID
}

// --- Requests ---

type DirectChatMessageRequest struct {
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Message    string    `json:"message"`
}

type GroupChatMessageRequest struct {
	SenderID uuid.UUID `json:"sender_id"`
	GroupID  uuid.UUID `json:"group_id"`
	Message  string    `json:"message"`
}

type AddItemRequest struct {
	ProductID   uuid.UUID `json:"product_id"`
	GroupID     uuid.UUID `json:"group_id"`
	ProductUnit string    `json:"product_unit"`
	Quantity    *float32  `json:"quantity,omitempty"`
}

type AddItemsRequest struct {
	SenderID uuid.UUID        `json:"sender_id"`
	GroupID  uuid.UUID        `json:"group_id"`
	Items    []AddItemRequest `json:"items"`
}

type RemoveItemsMessage struct {
	SenderID uuid.UUID   `json:"sender_id"`
	GroupID  uuid.UUID   `json:"group_id"`
	Items    []uuid.UUID `json:"items"`
}

type JoinGroupRequest struct {
	SenderID     uuid.UUID `json:"sender_id"`
	GroupOwnerID uuid.UUID `json:"group_owner_id"`
	GroupID      uuid.UUID `json:"group_id"`
}

type ApproveJoin struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	Approved    bool      `json:"approved"`
	GroupID     uuid.UUID `json:"group_id"`
}

// CreateGroupRequest announces a group that has already been stored. The
// sender is the group owner.
type CreateGroupRequest struct {
	SenderID uuid.UUID `json:"sender_id"`
	GroupID  uuid.UUID `json:"group_id"`
	Name     string    `json:"name"`
}

func (DirectChatMessageRequest) Kind() Kind { return KindDirectChat }
func (GroupChatMessageRequest) Kind() Kind  { return KindGroupChat }
func (AddItemsRequest) Kind() Kind          { return KindAddItems }
func (RemoveItemsMessage) Kind() Kind       { return KindRemoveItems }
func (JoinGroupRequest) Kind() Kind         { return KindJoinGroup }
func (ApproveJoin) Kind() Kind              { return KindApproveJoin }
func (CreateGroupRequest) Kind() Kind       { return KindCreateGroup }

func (m DirectChatMessageRequest) Sender() uuid.UUID { return m.SenderID }
func (m GroupChatMessageRequest) Sender() uuid.UUID  { return m.SenderID }
func (m AddItemsRequest) Sender() uuid.UUID          { return m.SenderID }
func (m RemoveItemsMessage) Sender() uuid.UUID       { return m.SenderID }
func (m JoinGroupRequest) Sender() uuid.UUID         { return m.SenderID }
func (m ApproveJoin) Sender() uuid.UUID              { return m.SenderID }
func (m CreateGroupRequest) Sender() uuid.UUID       { return m.SenderID }

func (m GroupChatMessageRequest) Group() uuid.UUID { return m.GroupID }
func (m AddItemsRequest) Group() uuid.UUID         { return m.GroupID }
func (m RemoveItemsMessage) Group() uuid.UUID      { return m.GroupID }
func (m JoinGroupRequest) Group() uuid.UUID        { return m.GroupID }
func (m ApproveJoin) Group() uuid.UUID             { return m.GroupID }
func (m CreateGroupRequest) Group() uuid.UUID      { return m.GroupID }

func (DirectChatMessageRequest) isRequest() {}
func (GroupChatMessageRequest) isRequest()  {}
func (AddItemsRequest) isRequest()          {}
func (RemoveItemsMessage) isRequest()       {}
func (JoinGroupRequest) isRequest()         {}
func (ApproveJoin) isRequest()              {}
func (CreateGroupRequest) isRequest()       {}

func (m DirectChatMessageRequest) Validate() error {
	return requireIDs(map[string]uuid.UUID{"sender_id": m.SenderID, "receiver_id": m.ReceiverID})
}

func (m GroupChatMessageRequest) Validate() error {
	return requireIDs(map[string]uuid.UUID{"sender_id": m.SenderID, "group_id": m.GroupID})
}

func (m AddItemsRequest) Validate() error {
	if err := requireIDs(map[string]uuid.UUID{"sender_id": m.SenderID, "group_id": m.GroupID}); err != nil {
		return err
	}
	for i, item := range m.Items {
		if item.ProductID == uuid.Nil {
			return fmt.Errorf("items[%d]: product_id is required", i)
		}
		if item.GroupID != m.GroupID {
			return fmt.Errorf("items[%d]: group_id does not match the event group", i)
		}
	}
	return nil
}

func (m RemoveItemsMessage) Validate() error {
	return requireIDs(map[string]uuid.UUID{"sender_id": m.SenderID, "group_id": m.GroupID})
}

func (m JoinGroupRequest) Validate() error {
	return requireIDs(map[string]uuid.UUID{
		"sender_id": m.SenderID, "group_owner_id": m.GroupOwnerID, "group_id": m.GroupID,
	})
}

func (m ApproveJoin) Validate() error {
	return requireIDs(map[string]uuid.UUID{
		"sender_id": m.SenderID, "candidate_id": m.CandidateID, "group_id": m.GroupID,
	})
}

func (m CreateGroupRequest) Validate() error {
	return requireIDs(map[string]uuid.UUID{"sender_id": m.SenderID, "group_id": m.GroupID})
}

func requireIDs(ids map[string]uuid.UUID) error {
	for name, id := range ids {
		if id == uuid.Nil {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

// --- Responses ---

type DirectChatMessageResponse struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Read       bool      `json:"read"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

type GroupChatMessageResponse struct {
	ID       uuid.UUID `json:"id"`
	SenderID uuid.UUID `json:"sender_id"`
	GroupID  uuid.UUID `json:"group_id"`
	Message  string    `json:"message"`
}

type AddItemResponse struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	GroupID     uuid.UUID `json:"group_id"`
	ProductUnit string    `json:"product_unit"`
	Quantity    *float32  `json:"quantity,omitempty"`
}

type AddItemsResponse struct {
	ID       uuid.UUID         `json:"id"`
	SenderID uuid.UUID         `json:"sender_id"`
	GroupID  uuid.UUID         `json:"group_id"`
	Items    []AddItemResponse `json:"items"`
}

type RemoveItemsResponse struct {
	ID       uuid.UUID   `json:"id"`
	SenderID uuid.UUID   `json:"sender_id"`
	GroupID  uuid.UUID   `json:"group_id"`
	Items    []uuid.UUID `json:"items"`
}

type JoinGroupResponse struct {
	ID           uuid.UUID `json:"id"`
	SenderID     uuid.UUID `json:"sender_id"`
	GroupOwnerID uuid.UUID `json:"group_owner_id"`
	GroupID      uuid.UUID `json:"group_id"`
}

type ApproveJoinResponse struct {
	ID          uuid.UUID `json:"id"`
	CandidateID uuid.UUID `json:"candidate_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	Approved    bool      `json:"approved"`
	GroupID     uuid.UUID `json:"group_id"`
}

type CreateGroupResponse struct {
	ID       uuid.UUID `json:"id"`
	SenderID uuid.UUID `json:"sender_id"`
	GroupID  uuid.UUID `json:"group_id"`
	Name     string    `json:"name"`
}

func (DirectChatMessageResponse) Kind() Kind { return KindDirectChat }
func (GroupChatMessageResponse) Kind() Kind  { return KindGroupChat }
func (AddItemsResponse) Kind() Kind          { return KindAddItems }
func (RemoveItemsResponse) Kind() Kind       { return KindRemoveItems }
func (JoinGroupResponse) Kind() Kind         { return KindJoinGroup }
func (ApproveJoinResponse) Kind() Kind       { return KindApproveJoin }
func (CreateGroupResponse) Kind() Kind       { return KindCreateGroup }

func (m DirectChatMessageResponse) Sender() uuid.UUID { return m.SenderID }
func (m GroupChatMessageResponse) Sender() uuid.UUID  { return m.SenderID }
func (m AddItemsResponse) Sender() uuid.UUID          { return m.SenderID }
func (m RemoveItemsResponse) Sender() uuid.UUID       { return m.SenderID }
func (m JoinGroupResponse) Sender() uuid.UUID         { return m.SenderID }
func (m ApproveJoinResponse) Sender() uuid.UUID       { return m.SenderID }
func (m CreateGroupResponse) Sender() uuid.UUID       { return m.SenderID }

func (m DirectChatMessageResponse) EventID() uuid.UUID { return m.ID }
func (m GroupChatMessageResponse) EventID() uuid.UUID  { return m.ID }
func (m AddItemsResponse) EventID() uuid.UUID          { return m.ID }
func (m RemoveItemsResponse) EventID() uuid.UUID       { return m.ID }
func (m JoinGroupResponse) EventID() uuid.UUID         { return m.ID }
func (m ApproveJoinResponse) EventID() uuid.UUID       { return m.ID }
func (m CreateGroupResponse) EventID() uuid.UUID       { return m.ID }

func (m GroupChatMessageResponse) Group() uuid.UUID { return m.GroupID }
func (m AddItemsResponse) Group() uuid.UUID         { return m.GroupID }
func (m RemoveItemsResponse) Group() uuid.UUID      { return m.GroupID }
func (m JoinGroupResponse) Group() uuid.UUID        { return m.GroupID }
func (m ApproveJoinResponse) Group() uuid.UUID      { return m.GroupID }
func (m CreateGroupResponse) Group() uuid.UUID      { return m.GroupID }

func (DirectChatMessageResponse) isResponse() {}
func (GroupChatMessageResponse) isResponse()  {}
func (AddItemsResponse) isResponse()          {}
func (RemoveItemsResponse) isResponse()       {}
func (JoinGroupResponse) isResponse()         {}
func (ApproveJoinResponse) isResponse()       {}
func (CreateGroupResponse) isResponse()       {}

// --- Translation ---

// Translator turns requests into responses. It performs no I/O; identifiers
// and timestamps come from NewID and Now.
type Translator struct {
	NewID func() uuid.UUID
	Now   func() time.Time
}

var DefaultTranslator = Translator{NewID: uuid.New, Now: time.Now}

func Translate(req Request) Response {
	return DefaultTranslator.Translate(req)
}

func (t Translator) Translate(req Request) Response {
	switch r := req.(type) {
	case DirectChatMessageRequest:
		return DirectChatMessageResponse{
			ID:         t.NewID(),
			SenderID:   r.SenderID,
			ReceiverID: r.ReceiverID,
			Read:       false,
			Message:    r.Message,
			CreatedAt:  t.Now().UTC(),
		}
	case GroupChatMessageRequest:
		return GroupChatMessageResponse{
			ID:       t.NewID(),
			SenderID: r.SenderID,
			GroupID:  r.GroupID,
			Message:  r.Message,
		}
	case AddItemsRequest:
		items := make([]AddItemResponse, 0, len(r.Items))
		for _, item := range r.Items {
			items = append(items, AddItemResponse{
				ID:          t.NewID(),
				ProductID:   item.ProductID,
				GroupID:     item.GroupID,
				ProductUnit: item.ProductUnit,
				Quantity:    item.Quantity,
			})
		}
		return AddItemsResponse{
			ID:       t.NewID(),
			SenderID: r.SenderID,
			GroupID:  r.GroupID,
			Items:    items,
		}
	case RemoveItemsMessage:
		return RemoveItemsResponse{
			ID:       t.NewID(),
			SenderID: r.SenderID,
			GroupID:  r.GroupID,
			Items:    r.Items,
		}
	case JoinGroupRequest:
		return JoinGroupResponse{
			ID:           t.NewID(),
			SenderID:     r.SenderID,
			GroupOwnerID: r.GroupOwnerID,
			GroupID:      r.GroupID,
		}
	case ApproveJoin:
		return ApproveJoinResponse{
			ID:          t.NewID(),
			CandidateID: r.CandidateID,
			SenderID:    r.SenderID,
			Approved:    r.Approved,
			GroupID:     r.GroupID,
		}
	case CreateGroupRequest:
		return CreateGroupResponse{
			ID:       t.NewID(),
			SenderID: r.SenderID,
			GroupID:  r.GroupID,
			Name:     r.Name,
		}
	}
	// Request is sealed; every implementation is handled above.
	panic(fmt.Sprintf("models: untranslatable request %T", req))
}
