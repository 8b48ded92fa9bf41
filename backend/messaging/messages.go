// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/efchatnet/campuschat/backend/metrics"
	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

// SendMessage validates and persists one message. It is never retried; the
// caller decides what to do with a failure.
func (s *Service) SendMessage(ctx context.Context, conversationID string, sender models.Sender, content string) (*models.Message, error) {
	start := time.Now()

	content = strings.TrimSpace(content)
	if content == "" {
		s.metrics.ObserveAppend(metrics.ResultInvalid, 0)
		return nil, ErrEmptyMessage
	}
	// Postgres TEXT cannot store NUL bytes or invalid UTF-8
	if !utf8.ValidString(content) || strings.ContainsRune(content, 0) {
		s.metrics.ObserveAppend(metrics.ResultInvalid, 0)
		return nil, ErrInvalidContent
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		s.metrics.ObserveAppend(metrics.ResultInvalid, 0)
		return nil, fmt.Errorf("%w: limit is %d characters", ErrMessageTooLong, s.maxLength)
	}

	msg, err := s.store.AppendMessage(ctx, models.Message{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
	})
	if err != nil {
		s.metrics.ObserveAppend(appendResult(err), 0)
		log.Warn().
			Err(err).
			Str("conversation_id", conversationID).
			Str("sender_kind", string(sender.Kind)).
			Str("sender_id", sender.ID).
			Msg("Append message failed")
		return nil, err
	}
	if msg.Sender.Name == "" {
		msg.Sender.Name = sender.Name
		msg.Sender.AvatarURL = sender.AvatarURL
	}

	s.metrics.ObserveAppend(metrics.ResultOK, time.Since(start))
	s.trackUnread(ctx, msg)

	log.Debug().
		Str("conversation_id", conversationID).
		Str("message_id", msg.ID).
		Int64("seq", msg.Seq).
		Msg("Message appended")

	return msg, nil
}

func appendResult(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, storage.ErrNotParticipant):
		return metrics.ResultForbidden
	default:
		return metrics.ResultError
	}
}

func (s *Service) trackUnread(ctx context.Context, msg *models.Message) {
	if s.unread == nil {
		return
	}

	participants, err := s.store.GetParticipants(ctx, msg.ConversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("Skipping unread tracking")
		return
	}

	recipients := make([]string, 0, len(participants))
	for _, p := range participants {
		if !msg.Sender.IsUser(p.UserID) {
			recipients = append(recipients, p.UserID)
		}
	}

	if err := s.unread.MessageAppended(ctx, msg.ConversationID, msg.ID, recipients); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("Unread tracking failed")
	}
}

// ListMessages returns the whole history of a conversation, oldest first.
// An unknown conversation is storage.ErrNotFound, not an empty list.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead records receipts for messages newly visible to userID and
// returns how many receipts were created.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	created, err := s.store.MarkRead(ctx, conversationID, userID, messageIDs)
	if err != nil {
		return 0, err
	}
	s.metrics.AddReceipts(created)

	if s.unread != nil {
		if err := s.unread.MarkRead(ctx, conversationID, userID, messageIDs); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Unread cleanup failed")
		}
	}
	return created, nil
}

// Receipts lists who has read a message. A message outside conversationID
// is storage.ErrNotFound.
func (s *Service) Receipts(ctx context.Context, conversationID, messageID string) ([]models.ReadReceipt, error) {
	return s.store.GetReceipts(ctx, conversationID, messageID)
}

// IsParticipant is used by transports to authorize reads
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return false, err
	}
	return s.store.IsParticipant(ctx, conversationID, userID)
}

// SyncUser mirrors the caller's identity so participants can be resolved
func (s *Service) SyncUser(ctx context.Context, user models.User) error {
	return s.store.UpsertUser(ctx, user)
}

func (s *Service) SyncAdmin(ctx context.Context, admin models.Admin) error {
	return s.store.UpsertAdmin(ctx, admin)
}
