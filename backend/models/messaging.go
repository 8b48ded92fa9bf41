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

package models

import (
	"time"
)

// ConversationType discriminates one-to-one threads from group threads
type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

// Valid reports whether t is a known conversation type
func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

// Participant roles. The role is informational only.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// User mirrors the identity provider's view of an account
type User struct {
	ID          string `json:"id" db:"id"`
	Username    string `json:"username" db:"username"`
	DisplayName string `json:"display_name" db:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty" db:"avatar_url"`
}

// Name returns the display name, falling back to the username
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Admin is an administrative broadcaster account. Admins are not participants.
type Admin struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty" db:"avatar_url"`
}

type Conversation struct {
	ID            string           `json:"id" db:"id"`
	Type          ConversationType `json:"type" db:"type"`
	Title         *string          `json:"title,omitempty" db:"title"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty" db:"last_message_at"`
}

// LastActivity is the time used to order conversations in the directory
func (c Conversation) LastActivity() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

type Participant struct {
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Role           string    `json:"role" db:"role"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
	User           User      `json:"user"`
}

// SenderKind tags who authored a message
type SenderKind string

const (
	SenderUser  SenderKind = "user"
	SenderAdmin SenderKind = "admin"
)

// Sender is either a regular user or an admin broadcaster, never both
type Sender struct {
	Kind      SenderKind `json:"kind"`
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
}

func UserSender(u User) Sender {
	return Sender{Kind: SenderUser, ID: u.ID, Name: u.Name(), AvatarURL: u.AvatarURL}
}

func AdminSender(a Admin) Sender {
	return Sender{Kind: SenderAdmin, ID: a.ID, Name: a.DisplayName, AvatarURL: a.AvatarURL}
}

// DisplayName resolves the name shown next to a message
func (s Sender) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Kind == SenderAdmin {
		return "Administrator"
	}
	return s.ID
}

func (s Sender) Avatar() string {
	return s.AvatarURL
}

// IsUser reports whether the sender is the regular user with the given id
func (s Sender) IsUser(userID string) bool {
	return s.Kind == SenderUser && s.ID == userID
}

// Message is immutable once persisted. CreatedAt then Seq define the order.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Seq            int64     `json:"seq" db:"seq"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content" db:"content"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsMine reports whether viewerID authored the message
func (m Message) IsMine(viewerID string) bool {
	return m.Sender.IsUser(viewerID)
}

// Before orders messages by timestamp, then by insertion sequence
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

type ReadReceipt struct {
	MessageID string    `json:"message_id" db:"message_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ReadAt    time.Time `json:"read_at" db:"read_at"`
}

// ConversationSummary is a sidebar row: the conversation, who is in it and
// the most recent message.
type ConversationSummary struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Title        *string          `json:"title,omitempty"`
	Participants []Participant    `json:"participants"`
	Peers        []User           `json:"peers"`
	LastMessage  *Message         `json:"last_message,omitempty"`
	UnreadCount  int64            `json:"unread_count"`
	LastActivity time.Time        `json:"last_activity"`
}

const NoMessagesPreview = "no messages yet"

// DisplayName is the peer's name for DIRECT threads and the title for GROUP threads
func (s ConversationSummary) DisplayName() string {
	if s.Type == ConversationGroup && s.Title != nil && *s.Title != "" {
		return *s.Title
	}
	if len(s.Peers) > 0 {
		return s.Peers[0].Name()
	}
	return ""
}

func (s ConversationSummary) Preview() string {
	if s.LastMessage == nil {
		return NoMessagesPreview
	}
	return s.LastMessage.Content
}
