// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Unread sets outlive any realistic gap between visits
	UnreadTTL = 30 * 24 * time.Hour

	// chat:unread:{userId}:{conversationId} - set of unread message IDs
	unreadPrefix = "chat:unread:"
)

// UnreadTracker keeps per-user, per-conversation sets of unread message IDs.
// It is a derived view of the read receipts held in the relational store.
type UnreadTracker struct {
	rdb *redis.Client
}

func NewUnreadTracker(rdb *redis.Client) *UnreadTracker {
	return &UnreadTracker{rdb: rdb}
}

func unreadKey(userID, conversationID string) string {
	return unreadPrefix + userID + ":" + conversationID
}

// MessageAppended marks messageID unread for every recipient
func (t *UnreadTracker) MessageAppended(ctx context.Context, conversationID, messageID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}

	pipe := t.rdb.TxPipeline()
	for _, userID := range recipientIDs {
		key := unreadKey(userID, conversationID)
		pipe.SAdd(ctx, key, messageID)
		pipe.Expire(ctx, key, UnreadTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark as unread: %w", err)
	}
	return nil
}

// MarkRead removes the given messages from the user's unread set
func (t *UnreadTracker) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	members := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		members[i] = id
	}
	if err := t.rdb.SRem(ctx, unreadKey(userID, conversationID), members...).Err(); err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}
	return nil
}

// UnreadCounts returns the number of unread messages per conversation
func (t *UnreadTracker) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	pipe := t.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(conversationIDs))
	for i, convID := range conversationIDs {
		cmds[i] = pipe.SCard(ctx, unreadKey(userID, convID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to count unread: %w", err)
	}

	for i, convID := range conversationIDs {
		counts[convID] = cmds[i].Val()
	}
	return counts, nil
}

func (t *UnreadTracker) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}
