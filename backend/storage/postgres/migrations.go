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
	"fmt"
)

var migrations = []string{
	// Users mirrored from the identity provider
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(255) PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	// Administrative broadcasters
	`CREATE TABLE IF NOT EXISTS admins (
		id VARCHAR(255) PRIMARY KEY,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(255) PRIMARY KEY,
		type VARCHAR(10) NOT NULL CHECK (type IN ('DIRECT', 'GROUP')),
		title TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_message_at TIMESTAMPTZ,
		CONSTRAINT group_has_title CHECK (type <> 'GROUP' OR COALESCE(title, '') <> '')
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'member',
		joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, user_id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_participants_user
	ON conversation_participants(user_id, conversation_id)`,

	// Direct threads are unique per unordered user pair (user1_id < user2_id)
	`CREATE TABLE IF NOT EXISTS direct_pairs (
		conversation_id VARCHAR(255) PRIMARY KEY,
		user1_id VARCHAR(255) NOT NULL,
		user2_id VARCHAR(255) NOT NULL,
		CONSTRAINT unique_direct_pair UNIQUE (user1_id, user2_id),
		CONSTRAINT ordered_users CHECK (user1_id < user2_id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`,

	// Exactly one of sender_user_id / sender_admin_id is set
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(255) PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		conversation_id VARCHAR(255) NOT NULL,
		sender_user_id VARCHAR(255) REFERENCES users(id),
		sender_admin_id VARCHAR(255) REFERENCES admins(id),
		content TEXT NOT NULL CHECK (content <> ''),
		created_at TIMESTAMPTZ NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		CONSTRAINT one_sender CHECK ((sender_user_id IS NULL) <> (sender_admin_id IS NULL))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_order
	ON messages(conversation_id, created_at, seq)`,

	`CREATE TABLE IF NOT EXISTS read_receipts (
		message_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		read_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
