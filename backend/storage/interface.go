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

package storage

import (
	"context"
	"errors"

	"github.com/efchatnet/campuschat/backend/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNotParticipant      = errors.New("sender is not a participant of the conversation")
	ErrInvalidConversation = errors.New("invalid conversation")
	ErrConflict            = errors.New("already exists")
)

type UserStore interface {
	UpsertUser(ctx context.Context, user models.User) error
	UpsertAdmin(ctx context.Context, admin models.Admin) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type ConversationStore interface {
	// CreateConversation persists the conversation and its participants atomically
	CreateConversation(ctx context.Context, conv models.Conversation, participants []models.Participant) error
	// FindDirectConversation returns nil, nil when the pair has no thread yet
	FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	// ListUserConversations orders by last activity, most recent first
	ListUserConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	GetParticipants(ctx context.Context, conversationID string) ([]models.Participant, error)
	// ListParticipants fetches the participants of many conversations at once
	ListParticipants(ctx context.Context, conversationIDs []string) (map[string][]models.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	// LatestMessages returns the newest message of each conversation that has one
	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]models.Message, error)
}

type MessageStore interface {
	// AppendMessage assigns ID, Seq and CreatedAt. The timestamp never goes
	// backwards within a conversation.
	AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

type ReceiptStore interface {
	// MarkRead is idempotent per (message, user) and skips the user's own messages
	MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error)
	// GetReceipts is storage.ErrNotFound when the message is not in the conversation
	GetReceipts(ctx context.Context, conversationID, messageID string) ([]models.ReadReceipt, error)
}

type Store interface {
	UserStore
	ConversationStore
	MessageStore
	ReceiptStore
	Ping(ctx context.Context) error
}
