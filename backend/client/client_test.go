// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/campuschat/backend/chatview"
	"github.com/efchatnet/campuschat/backend/integration"
	"github.com/efchatnet/campuschat/backend/middleware"
	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
	"github.com/efchatnet/campuschat/backend/storage/memory"
)

const secret = "client-secret"

var (
	alice = middleware.Identity{UserID: "u1", Username: "alice", DisplayName: "Alice"}
	bob   = middleware.Identity{UserID: "u2", Username: "bob", DisplayName: "Bob"}
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	chat, err := integration.NewChatIntegration(&integration.Config{
		Store:     memory.NewStore(),
		JWTSecret: secret,
	})
	require.NoError(t, err)
	t.Cleanup(chat.Close)

	router := mux.NewRouter()
	chat.RegisterRoutes(router, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, id middleware.Identity) *Client {
	t.Helper()
	token, err := middleware.NewToken(secret, "", id, time.Hour)
	require.NoError(t, err)
	return New(srv.URL+"/", token)
}

func TestClient_ViewRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	ac := clientFor(t, srv, alice)
	bc := clientFor(t, srv, bob)

	// Bob must be known before Alice can start a thread with him
	_, err := bc.ListConversations(ctx, bob.UserID)
	require.NoError(t, err)

	conv, err := ac.CreateConversation(ctx, models.ConversationDirect, "", []string{bob.UserID})
	require.NoError(t, err)

	view := chatview.New(ac, models.Sender{Kind: models.SenderUser, ID: alice.UserID, Name: "Alice"}, conv.ID)
	require.NoError(t, view.Open(ctx))
	require.Len(t, view.Conversations("bob"), 1)

	view.SetDraft("Hi Bob")
	out, err := view.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, chatview.Confirmed, out.State())

	msgs, err := bc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, out.Message.ID, msgs[0].ID)

	created, err := bc.MarkRead(ctx, conv.ID, bob.UserID, []string{msgs[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created)
}

func TestClient_ErrorsMatchSentinels(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	ac := clientFor(t, srv, alice)

	_, err := ac.ListMessages(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)

	bad := New(srv.URL, "not-a-token")
	_, err = bad.ListConversations(ctx, "")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestClient_FailedSendRollsBackView(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	ac := clientFor(t, srv, alice)
	bc := clientFor(t, srv, bob)
	_, err := bc.ListConversations(ctx, bob.UserID)
	require.NoError(t, err)
	conv, err := ac.CreateConversation(ctx, models.ConversationDirect, "", []string{bob.UserID})
	require.NoError(t, err)

	// A non-admin asking to broadcast is refused by the server
	view := chatview.New(ac, models.Sender{Kind: models.SenderAdmin, ID: alice.UserID}, conv.ID)
	view.SetDraft("not allowed")
	out, err := view.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, chatview.FailedRolledBack, out.State())
	assert.Empty(t, view.Messages())

	msgs, err := bc.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
