package handlers

import (
	"encoding/json"
	"net/http"

	"chat-server/internal/auth"
	"chat-server/internal/models"
	"chat-server/internal/services"
)

type GroupHandlers struct {
	groupService *services.GroupService
	authService  *auth.Service
}

func NewGroupHandlers(groupService *services.GroupService, authService *auth.Service) *GroupHandlers {
	return &GroupHandlers{
		groupService: groupService,
		authService:  authService,
	}
}

func (h *GroupHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.NewGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	group, err := h.groupService.CreateGroup(r.Context(), &req, userID)
	if err != nil {
		writeError(w, "Create group", err)
		return
	}

	writeJSON(w, http.StatusCreated, group)
}

func (h *GroupHandlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	groups, err := h.groupService.ListUserGroups(r.Context(), userID)
	if err != nil {
		writeError(w, "List groups", err)
		return
	}
	if groups == nil {
		groups = []*models.Group{}
	}

	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandlers) GetGroupMembers(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	groupID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}

	members, err := h.groupService.GetGroupMembers(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, "Get group members", err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}

func (h *GroupHandlers) GetActiveMembers(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	groupID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}

	active, err := h.groupService.GetActiveMembers(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, "Get active members", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"group_id":     groupID,
		"active_users": active,
		"user_count":   len(active),
	})
}

func (h *GroupHandlers) RequestJoin(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	groupID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}

	if err := h.groupService.RequestJoin(r.Context(), groupID, userID); err != nil {
		writeError(w, "Request join", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("join request sent"))
}

func (h *GroupHandlers) ListJoinRequests(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	requests, err := h.groupService.PendingJoinRequests(r.Context(), userID)
	if err != nil {
		writeError(w, "List join requests", err)
		return
	}
	if requests == nil {
		requests = []*models.JoinRequest{}
	}

	writeJSON(w, http.StatusOK, requests)
}

func (h *GroupHandlers) ResolveJoinRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(h.authService, r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	groupID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	candidateID, err := pathID(r, "user_id")
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	var req models.ResolveJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.groupService.ResolveJoin(r.Context(), groupID, userID, candidateID, req.Approved); err != nil {
		writeError(w, "Resolve join request", err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("join request resolved"))
}
