// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/efchatnet/campuschat/backend/messaging"
	"github.com/efchatnet/campuschat/backend/middleware"
	"github.com/efchatnet/campuschat/backend/models"
)

// ConversationHandler serves the conversation directory
type ConversationHandler struct {
	svc *messaging.Service
}

func NewConversationHandler(svc *messaging.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// CreateConversationRequest starts a direct or group thread
type CreateConversationRequest struct {
	Type      models.ConversationType `json:"type"`
	Title     string                  `json:"title,omitempty"`
	MemberIDs []string                `json:"member_ids"`
}

// ListConversations returns the caller's conversations, most recent first
// GET /api/chat/conversations?q=term
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)

	summaries, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	summaries = messaging.FilterSummaries(summaries, r.URL.Query().Get("q"))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": summaries,
		"count":         len(summaries),
	})
}

// CreateConversation creates a group, or finds or creates a direct thread
// POST /api/chat/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = models.ConversationDirect
	}

	conv, err := h.svc.CreateConversation(r.Context(), userID, req.Type, req.Title, req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// GetParticipants lists the members of a conversation the caller belongs to
// GET /api/chat/conversations/{conversationId}/participants
func (h *ConversationHandler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationId"]
	if !authorizeRead(w, r, h.svc, conversationID) {
		return
	}

	participants, err := h.svc.Participants(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participants": participants,
		"count":        len(participants),
	})
}

// authorizeRead lets participants and admins through. It writes the error
// response itself and reports whether the handler may continue.
func authorizeRead(w http.ResponseWriter, r *http.Request, svc *messaging.Service, conversationID string) bool {
	id, _ := middleware.GetIdentity(r)

	ok, err := svc.IsParticipant(r.Context(), conversationID, id.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return false
	}
	if !ok && !id.IsAdmin() {
		writeError(w, http.StatusForbidden, CodeForbidden, "Not a participant of this conversation")
		return false
	}
	return true
}
