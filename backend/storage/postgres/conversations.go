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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// CreateConversation creates the conversation row, its participants and, for
// direct threads, the ordered pair used to keep one thread per user pair.
func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation, participants []models.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, title, created_at)
		VALUES ($1, $2, $3, $4)`,
		conv.ID, string(conv.Type), conv.Title, conv.CreatedAt)
	if err != nil {
		return err
	}

	if conv.Type == models.ConversationDirect {
		if len(participants) != 2 {
			return storage.ErrInvalidConversation
		}
		user1, user2 := orderedPair(participants[0].UserID, participants[1].UserID)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO direct_pairs (conversation_id, user1_id, user2_id)
			VALUES ($1, $2, $3)`,
			conv.ID, user1, user2)
		if pqCode(err) == uniqueViolation {
			return storage.ErrConflict
		}
		if err != nil {
			return err
		}
	}

	for _, p := range participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)`,
			conv.ID, p.UserID, p.Role, p.JoinedAt)
		if pqCode(err) == foreignKeyViolation {
			return fmt.Errorf("participant %s: %w", p.UserID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("add participant %s: %w", p.UserID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	user1, user2 := orderedPair(userA, userB)

	conv, err := scanConversation(s.db.QueryRowContext(ctx, `
		SELECT c.id, c.type, c.title, c.created_at, c.last_message_at
		FROM direct_pairs d
		JOIN conversations c ON c.id = d.conversation_id
		WHERE d.user1_id = $1 AND d.user2_id = $2`,
		user1, user2))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx, `
		SELECT id, type, title, created_at, last_message_at
		FROM conversations
		WHERE id = $1`, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return conv, err
}

func (s *Store) ListUserConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.type, c.title, c.created_at, c.last_message_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}

	return convs, rows.Err()
}

func (s *Store) GetParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.conversation_id, p.user_id, p.role, p.joined_at,
		       u.username, u.display_name, u.avatar_url
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY p.joined_at, p.user_id`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt,
			&p.User.Username, &p.User.DisplayName, &p.User.AvatarURL); err != nil {
			return nil, err
		}
		p.User.ID = p.UserID
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (s *Store) ListParticipants(ctx context.Context, conversationIDs []string) (map[string][]models.Participant, error) {
	byConversation := make(map[string][]models.Participant, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return byConversation, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.conversation_id, p.user_id, p.role, p.joined_at,
		       u.username, u.display_name, u.avatar_url
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1)
		ORDER BY p.conversation_id, p.joined_at, p.user_id`,
		pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt,
			&p.User.Username, &p.User.DisplayName, &p.User.AvatarURL); err != nil {
			return nil, err
		}
		p.User.ID = p.UserID
		byConversation[p.ConversationID] = append(byConversation[p.ConversationID], p)
	}

	return byConversation, rows.Err()
}

func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`, conversationID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]models.Message, error) {
	latest := make(map[string]models.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return latest, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (m.conversation_id) `+messageColumns+`
		FROM messages m `+senderJoins+`
		WHERE m.conversation_id = ANY($1)
		ORDER BY m.conversation_id, m.created_at DESC, m.seq DESC`,
		pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		latest[msg.ConversationID] = *msg
	}

	return latest, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var convType string
	var title sql.NullString
	var lastMessageAt sql.NullTime

	if err := row.Scan(&conv.ID, &convType, &title, &conv.CreatedAt, &lastMessageAt); err != nil {
		return nil, err
	}

	conv.Type = models.ConversationType(convType)
	if title.Valid {
		conv.Title = &title.String
	}
	if lastMessageAt.Valid {
		conv.LastMessageAt = &lastMessageAt.Time
	}
	return &conv, nil
}

func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
