// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*UnreadTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewUnreadTracker(rdb), mr
}

func TestUnreadTracker_CountsPerRecipient(t *testing.T) {
	tracker, mr := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MessageAppended(ctx, "c1", "m1", []string{"bob", "carol"}))
	require.NoError(t, tracker.MessageAppended(ctx, "c1", "m2", []string{"bob"}))

	counts, err := tracker.UnreadCounts(ctx, "bob", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["c1"])
	assert.Equal(t, int64(0), counts["c2"])

	counts, err = tracker.UnreadCounts(ctx, "carol", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["c1"])

	assert.Equal(t, UnreadTTL, mr.TTL(unreadKey("bob", "c1")))
}

func TestUnreadTracker_MarkReadIsIdempotent(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MessageAppended(ctx, "c1", "m1", []string{"bob"}))
	require.NoError(t, tracker.MessageAppended(ctx, "c1", "m2", []string{"bob"}))

	require.NoError(t, tracker.MarkRead(ctx, "c1", "bob", []string{"m1"}))
	require.NoError(t, tracker.MarkRead(ctx, "c1", "bob", []string{"m1"}))

	counts, err := tracker.UnreadCounts(ctx, "bob", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["c1"])
}

func TestUnreadTracker_NoRecipients(t *testing.T) {
	tracker, mr := newTracker(t)

	require.NoError(t, tracker.MessageAppended(context.Background(), "c1", "m1", nil))
	assert.Empty(t, mr.Keys())
}
