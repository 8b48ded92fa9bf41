// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

func seed(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "u1", Username: "alice", DisplayName: "Alice"}))
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "u2", Username: "bob"}))
	require.NoError(t, s.UpsertAdmin(ctx, models.Admin{ID: "a1", DisplayName: "Registrar"}))
	return s, ctx
}

func directConv(t *testing.T, s *Store, ctx context.Context, id string) {
	t.Helper()
	err := s.CreateConversation(ctx, models.Conversation{ID: id, Type: models.ConversationDirect, CreatedAt: time.Now().UTC()},
		[]models.Participant{{ConversationID: id, UserID: "u1"}, {ConversationID: id, UserID: "u2"}})
	require.NoError(t, err)
}

func TestCreateConversation_DirectPairIsUnique(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")

	err := s.CreateConversation(ctx, models.Conversation{ID: "c2", Type: models.ConversationDirect},
		[]models.Participant{{UserID: "u2"}, {UserID: "u1"}})
	assert.ErrorIs(t, err, storage.ErrConflict)

	found, err := s.FindDirectConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "c1", found.ID)
}

func TestCreateConversation_UnknownUser(t *testing.T) {
	s, ctx := seed(t)
	err := s.CreateConversation(ctx, models.Conversation{ID: "c1", Type: models.ConversationGroup},
		[]models.Participant{{UserID: "u1"}, {UserID: "ghost"}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppendMessage_TimestampsNeverGoBackwards(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })
	first, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderUser, ID: "u1"}, Content: "one"})
	require.NoError(t, err)

	s.SetClock(func() time.Time { return base.Add(-time.Minute) })
	second, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderUser, ID: "u2"}, Content: "two"})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, first.Before(*second))
	assert.Equal(t, "Alice", first.Sender.Name)
	assert.Equal(t, "bob", second.Sender.Name)
}

func TestAppendMessage_Senders(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "u3", Username: "carol"}))

	_, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderUser, ID: "u3"}, Content: "hi"})
	assert.ErrorIs(t, err, storage.ErrNotParticipant)

	_, err = s.AppendMessage(ctx, models.Message{ConversationID: "missing", Sender: models.Sender{Kind: models.SenderUser, ID: "u1"}, Content: "hi"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	msg, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderAdmin, ID: "a1"}, Content: "notice"})
	require.NoError(t, err)
	assert.Equal(t, "Registrar", msg.Sender.DisplayName())
	assert.Equal(t, 1, s.MessageCount("c1"))
}

func TestMarkRead_SkipsOwnAndDuplicates(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")

	mine, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderUser, ID: "u1"}, Content: "a"})
	require.NoError(t, err)
	theirs, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderUser, ID: "u2"}, Content: "b"})
	require.NoError(t, err)

	n, err := s.MarkRead(ctx, "c1", "u1", []string{mine.ID, theirs.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.MarkRead(ctx, "c1", "u1", []string{theirs.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.MarkRead(ctx, "other", "u1", []string{theirs.ID})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	receipts, err := s.GetReceipts(ctx, "c1", theirs.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "u1", receipts[0].UserID)
}

func TestFailAppend(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")
	s.FailAppend = assert.AnError

	_, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderUser, ID: "u1"}, Content: "x"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, s.MessageCount("c1"))
}

func TestAppendMessage_UnknownAdmin(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")

	_, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderAdmin, ID: "nobody"}, Content: "notice"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, s.MessageCount("c1"))
}

func TestGetReceipts_ScopedToConversation(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")
	require.NoError(t, s.UpsertUser(ctx, models.User{ID: "u3", Username: "carol"}))
	require.NoError(t, s.CreateConversation(ctx, models.Conversation{ID: "c2", Type: models.ConversationDirect},
		[]models.Participant{{ConversationID: "c2", UserID: "u2"}, {ConversationID: "c2", UserID: "u3"}}))

	msg, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Sender: models.Sender{Kind: models.SenderUser, ID: "u1"}, Content: "private"})
	require.NoError(t, err)
	_, err = s.MarkRead(ctx, "c1", "u2", []string{msg.ID})
	require.NoError(t, err)

	_, err = s.GetReceipts(ctx, "c2", msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetReceipts(ctx, "c1", "does-not-exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListParticipants_Batch(t *testing.T) {
	s, ctx := seed(t)
	directConv(t, s, ctx, "c1")

	byConv, err := s.ListParticipants(ctx, []string{"c1", "missing"})
	require.NoError(t, err)
	require.Len(t, byConv["c1"], 2)
	assert.Equal(t, "Alice", byConv["c1"][0].User.DisplayName)
	assert.Empty(t, byConv["missing"])
}
