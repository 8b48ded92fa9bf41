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

type MessageHandler struct {
	svc *messaging.Service
}

func NewMessageHandler(svc *messaging.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type SendMessageRequest struct {
	Content string `json:"content"`
	// AsAdmin posts as the caller's administrator account
	AsAdmin bool `json:"as_admin,omitempty"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// ListMessages returns the full history of a conversation, oldest first
// GET /api/chat/conversations/{conversationId}/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationId"]
	if !authorizeRead(w, r, h.svc, conversationID) {
		return
	}

	msgs, err := h.svc.ListMessages(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// SendMessage appends a message to a conversation
// POST /api/chat/conversations/{conversationId}/messages
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.GetIdentity(r)
	conversationID := mux.Vars(r)["conversationId"]

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	sender := models.UserSender(userFromIdentity(id))
	if req.AsAdmin {
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, CodeForbidden, "Only administrators can broadcast")
			return
		}
		sender = models.AdminSender(adminFromIdentity(id))
	}

	msg, err := h.svc.SendMessage(r.Context(), conversationID, sender, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead records read receipts for the caller
// POST /api/chat/conversations/{conversationId}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r)
	conversationID := mux.Vars(r)["conversationId"]

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	ok, err := h.svc.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, CodeForbidden, "Not a participant of this conversation")
		return
	}

	created, err := h.svc.MarkRead(r.Context(), conversationID, userID, req.MessageIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "marked_read",
		"created": created,
	})
}

// GetReceipts lists who has read a message
// GET /api/chat/conversations/{conversationId}/messages/{messageId}/receipts
func (h *MessageHandler) GetReceipts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !authorizeRead(w, r, h.svc, vars["conversationId"]) {
		return
	}

	receipts, err := h.svc.Receipts(r.Context(), vars["conversationId"], vars["messageId"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if receipts == nil {
		receipts = []models.ReadReceipt{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
	})
}
