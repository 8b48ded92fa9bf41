// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

// MarkRead records one receipt per message. Existing receipts are left alone,
// so repeated reads are no-ops. Every id must belong to the conversation.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error) {
	ids := uniqueIDs(messageIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, COALESCE(sender_user_id, '') FROM messages
		WHERE conversation_id = $1 AND id = ANY($2)`,
		conversationID, pq.Array(ids))
	if err != nil {
		return 0, err
	}

	found := 0
	var readable []string
	for rows.Next() {
		var id, senderID string
		if err := rows.Scan(&id, &senderID); err != nil {
			rows.Close()
			return 0, err
		}
		found++
		if senderID != userID {
			readable = append(readable, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if found != len(ids) {
		return 0, storage.ErrNotFound
	}
	if len(readable) == 0 {
		return 0, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		SELECT unnest($1::text[]), $2, $3
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		pq.Array(readable), userID, s.now().UTC())
	if err != nil {
		return 0, err
	}

	created, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return created, tx.Commit()
}

func (s *Store) GetReceipts(ctx context.Context, conversationID, messageID string) ([]models.ReadReceipt, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM messages m
			WHERE m.conversation_id = $1 AND m.id = $2
		)`, conversationID, messageID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, read_at
		FROM read_receipts
		WHERE message_id = $1
		ORDER BY read_at, user_id`,
		messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []models.ReadReceipt
	for rows.Next() {
		var r models.ReadReceipt
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.ReadAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}

	return receipts, rows.Err()
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
