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

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

// ListConversations returns every conversation userID takes part in, most
// recently active first. An unknown user simply has no conversations.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	convs, err := s.store.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	if len(convs) == 0 {
		return summaries, nil
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}

	latest, err := s.store.LatestMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}

	var unread map[string]int64
	if s.unread != nil {
		unread, err = s.unread.UnreadCounts(ctx, userID, ids)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Unread counts unavailable")
		}
	}

	participantsByConv, err := s.store.ListParticipants(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}

	for _, c := range convs {
		participants := participantsByConv[c.ID]
		if participants == nil {
			participants = []models.Participant{}
		}

		summary := models.ConversationSummary{
			ID:           c.ID,
			Type:         c.Type,
			Title:        c.Title,
			Participants: participants,
			Peers:        peersOf(participants, userID),
			UnreadCount:  unread[c.ID],
			LastActivity: c.LastActivity(),
		}
		if m, ok := latest[c.ID]; ok {
			msg := m
			summary.LastMessage = &msg
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func peersOf(participants []models.Participant, userID string) []models.User {
	peers := make([]models.User, 0, len(participants))
	for _, p := range participants {
		if p.UserID != userID {
			peers = append(peers, p.User)
		}
	}
	return peers
}

// FilterSummaries keeps the conversations whose display name contains term,
// ignoring case. For group threads the title and every peer name are matched.
func FilterSummaries(summaries []models.ConversationSummary, term string) []models.ConversationSummary {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return summaries
	}

	filtered := make([]models.ConversationSummary, 0, len(summaries))
	for _, s := range summaries {
		if matchesSummary(s, term) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func matchesSummary(s models.ConversationSummary, term string) bool {
	if s.Type == models.ConversationGroup {
		if s.Title != nil && strings.Contains(strings.ToLower(*s.Title), term) {
			return true
		}
		for _, p := range s.Peers {
			if strings.Contains(strings.ToLower(p.Name()), term) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(s.DisplayName()), term)
}

// CreateConversation starts a thread. Direct threads are find-or-create per
// user pair; group threads need a title and at least one other member.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, convType models.ConversationType, title string, memberIDs []string) (*models.Conversation, error) {
	if !convType.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", storage.ErrInvalidConversation, convType)
	}

	members := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	conv := models.Conversation{
		ID:        uuid.New().String(),
		Type:      convType,
		CreatedAt: s.now().UTC(),
	}

	switch convType {
	case models.ConversationDirect:
		if len(members) != 2 {
			return nil, fmt.Errorf("%w: a direct conversation needs exactly one other participant", storage.ErrInvalidConversation)
		}
		existing, err := s.store.FindDirectConversation(ctx, members[0], members[1])
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	case models.ConversationGroup:
		title = strings.TrimSpace(title)
		if title == "" {
			return nil, fmt.Errorf("%w: a group conversation needs a title", storage.ErrInvalidConversation)
		}
		if len(members) < 2 {
			return nil, fmt.Errorf("%w: a group conversation needs at least two participants", storage.ErrInvalidConversation)
		}
		conv.Title = &title
	}

	participants := make([]models.Participant, len(members))
	for i, id := range members {
		role := models.RoleMember
		if id == creatorID {
			role = models.RoleOwner
		}
		participants[i] = models.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           role,
			JoinedAt:       conv.CreatedAt,
		}
	}

	err := s.store.CreateConversation(ctx, conv, participants)
	if errors.Is(err, storage.ErrConflict) && convType == models.ConversationDirect {
		// Lost a race with the peer creating the same pair
		return s.store.FindDirectConversation(ctx, members[0], members[1])
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("type", string(conv.Type)).
		Int("participants", len(participants)).
		Msg("Conversation created")

	return &conv, nil
}

// Participants lists the members of a conversation with their user details
func (s *Service) Participants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.GetParticipants(ctx, conversationID)
}
