// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

const messageColumns = `m.id, m.conversation_id, m.seq, m.sender_user_id, m.sender_admin_id,
		m.content, m.created_at,
		COALESCE(NULLIF(u.display_name, ''), u.username, ''), COALESCE(u.avatar_url, ''),
		COALESCE(a.display_name, ''), COALESCE(a.avatar_url, '')`

const senderJoins = `
		LEFT JOIN users u ON u.id = m.sender_user_id
		LEFT JOIN admins a ON a.id = m.sender_admin_id`

// AppendMessage locks the conversation row so concurrent appends to the same
// conversation get non-decreasing timestamps and increasing sequence numbers.
func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var lastMessageAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT last_message_at FROM conversations
		WHERE id = $1
		FOR UPDATE`, msg.ConversationID).Scan(&lastMessageAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var senderUserID, senderAdminID sql.NullString
	switch msg.Sender.Kind {
	case models.SenderUser:
		var member bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM conversation_participants
				WHERE conversation_id = $1 AND user_id = $2
			)`, msg.ConversationID, msg.Sender.ID).Scan(&member)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, storage.ErrNotParticipant
		}
		senderUserID = sql.NullString{String: msg.Sender.ID, Valid: true}
	case models.SenderAdmin:
		senderAdminID = sql.NullString{String: msg.Sender.ID, Valid: true}
	default:
		return nil, storage.ErrNotParticipant
	}

	// Postgres keeps microseconds; truncate so the stored and returned values match
	createdAt := s.now().UTC().Truncate(timePrecision)
	if lastMessageAt.Valid && createdAt.Before(lastMessageAt.Time) {
		createdAt = lastMessageAt.Time
	}

	msg.ID = uuid.New().String()
	msg.CreatedAt = createdAt

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_user_id, sender_admin_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`,
		msg.ID, msg.ConversationID, senderUserID, senderAdminID, msg.Content, msg.CreatedAt).Scan(&msg.Seq)
	if pqCode(err) == foreignKeyViolation {
		return nil, fmt.Errorf("sender %s: %w", msg.Sender.ID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = $2
		WHERE id = $1`,
		msg.ConversationID, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m `+senderJoins+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at, m.seq`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var senderUserID, senderAdminID sql.NullString
	var userName, userAvatar, adminName, adminAvatar string

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &senderUserID, &senderAdminID,
		&msg.Content, &msg.CreatedAt, &userName, &userAvatar, &adminName, &adminAvatar)
	if err != nil {
		return nil, err
	}

	if senderAdminID.Valid {
		msg.Sender = models.Sender{Kind: models.SenderAdmin, ID: senderAdminID.String, Name: adminName, AvatarURL: adminAvatar}
	} else {
		msg.Sender = models.Sender{Kind: models.SenderUser, ID: senderUserID.String, Name: userName, AvatarURL: userAvatar}
	}
	return &msg, nil
}
