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

// Package messaging implements the conversation directory and the message
// store operations on top of a storage.Store.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/efchatnet/campuschat/backend/metrics"
	"github.com/efchatnet/campuschat/backend/storage"
)

var (
	ErrEmptyMessage   = errors.New("cannot send empty message")
	ErrMessageTooLong = errors.New("message is too long")
	ErrInvalidContent = errors.New("message contains invalid characters")
)

const DefaultMaxMessageLength = 4000

// UnreadTracker is the optional unread-counter cache. Failures are logged and
// never fail the operation that triggered them.
type UnreadTracker interface {
	MessageAppended(ctx context.Context, conversationID, messageID string, recipientIDs []string) error
	MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) error
	UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int64, error)
}

type Options struct {
	Unread           UnreadTracker
	Metrics          *metrics.Metrics
	MaxMessageLength int
}

type Service struct {
	store     storage.Store
	unread    UnreadTracker
	metrics   *metrics.Metrics
	maxLength int
	now       func() time.Time
}

func NewService(store storage.Store, opts Options) *Service {
	maxLength := opts.MaxMessageLength
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &Service{
		store:     store,
		unread:    opts.Unread,
		metrics:   opts.Metrics,
		maxLength: maxLength,
		now:       time.Now,
	}
}

func (s *Service) Store() storage.Store {
	return s.store
}
