// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package memory is a process-local storage.Store used for development
// (storage.driver = "memory") and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

type receiptKey struct {
	messageID string
	userID    string
}

type Store struct {
	mu sync.RWMutex

	users         map[string]models.User
	admins        map[string]models.Admin
	conversations map[string]*models.Conversation
	participants  map[string][]models.Participant
	directPairs   map[[2]string]string
	messages      map[string][]models.Message
	messageIndex  map[string]models.Message
	receipts      map[receiptKey]models.ReadReceipt
	seq           int64

	// FailAppend, when set, is returned by AppendMessage instead of writing
	FailAppend error

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		users:         make(map[string]models.User),
		admins:        make(map[string]models.Admin),
		conversations: make(map[string]*models.Conversation),
		participants:  make(map[string][]models.Participant),
		directPairs:   make(map[[2]string]string),
		messages:      make(map[string][]models.Message),
		messageIndex:  make(map[string]models.Message),
		receipts:      make(map[receiptKey]models.ReadReceipt),
		now:           time.Now,
	}
}

// SetClock replaces the time source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) UpsertUser(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func (s *Store) UpsertAdmin(ctx context.Context, admin models.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[admin.ID] = admin
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation, participants []models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return storage.ErrConflict
	}
	for _, p := range participants {
		if _, ok := s.users[p.UserID]; !ok {
			return storage.ErrNotFound
		}
	}
	if conv.Type == models.ConversationDirect {
		if len(participants) != 2 {
			return storage.ErrInvalidConversation
		}
		key := pairKey(participants[0].UserID, participants[1].UserID)
		if _, exists := s.directPairs[key]; exists {
			return storage.ErrConflict
		}
		s.directPairs[key] = conv.ID
	}

	c := conv
	s.conversations[conv.ID] = &c
	s.participants[conv.ID] = append([]models.Participant(nil), participants...)
	return nil
}

func (s *Store) FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.directPairs[pairKey(userA, userB)]
	if !ok {
		return nil, nil
	}
	c := *s.conversations[id]
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (s *Store) ListUserConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []models.Conversation
	for id, participants := range s.participants {
		for _, p := range participants {
			if p.UserID == userID {
				convs = append(convs, *s.conversations[id])
				break
			}
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		ai, aj := convs[i].LastActivity(), convs[j].LastActivity()
		if ai.Equal(aj) {
			return convs[i].ID < convs[j].ID
		}
		return ai.After(aj)
	})
	return convs, nil
}

func (s *Store) GetParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]models.Participant, 0, len(s.participants[conversationID]))
	for _, p := range s.participants[conversationID] {
		p.User = s.users[p.UserID]
		participants = append(participants, p)
	}
	return participants, nil
}

func (s *Store) ListParticipants(ctx context.Context, conversationIDs []string) (map[string][]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byConversation := make(map[string][]models.Participant, len(conversationIDs))
	for _, id := range conversationIDs {
		for _, p := range s.participants[id] {
			p.User = s.users[p.UserID]
			byConversation[id] = append(byConversation[id], p)
		}
	}
	return byConversation, nil
}

func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isParticipant(conversationID, userID), nil
}

func (s *Store) isParticipant(conversationID, userID string) bool {
	for _, p := range s.participants[conversationID] {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Store) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]models.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		msgs := s.messages[id]
		if len(msgs) > 0 {
			latest[id] = s.resolveSender(msgs[len(msgs)-1])
		}
	}
	return latest, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAppend != nil {
		return nil, s.FailAppend
	}

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	switch msg.Sender.Kind {
	case models.SenderUser:
		if !s.isParticipant(msg.ConversationID, msg.Sender.ID) {
			return nil, storage.ErrNotParticipant
		}
	case models.SenderAdmin:
		if _, ok := s.admins[msg.Sender.ID]; !ok {
			return nil, storage.ErrNotFound
		}
	default:
		return nil, storage.ErrNotParticipant
	}

	createdAt := s.now().UTC()
	if conv.LastMessageAt != nil && createdAt.Before(*conv.LastMessageAt) {
		createdAt = *conv.LastMessageAt
	}

	s.seq++
	msg.ID = uuid.New().String()
	msg.Seq = s.seq
	msg.CreatedAt = createdAt

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	s.messageIndex[msg.ID] = msg
	conv.LastMessageAt = &createdAt

	out := s.resolveSender(msg)
	return &out, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, storage.ErrNotFound
	}

	msgs := make([]models.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		msgs = append(msgs, s.resolveSender(m))
	}
	return msgs, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range messageIDs {
		m, ok := s.messageIndex[id]
		if !ok || m.ConversationID != conversationID {
			return 0, storage.ErrNotFound
		}
	}

	var created int64
	readAt := s.now().UTC()
	for _, id := range messageIDs {
		if s.messageIndex[id].Sender.IsUser(userID) {
			continue
		}
		key := receiptKey{messageID: id, userID: userID}
		if _, exists := s.receipts[key]; exists {
			continue
		}
		s.receipts[key] = models.ReadReceipt{MessageID: id, UserID: userID, ReadAt: readAt}
		created++
	}
	return created, nil
}

func (s *Store) GetReceipts(ctx context.Context, conversationID, messageID string) ([]models.ReadReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.messageIndex[messageID]; !ok || m.ConversationID != conversationID {
		return nil, storage.ErrNotFound
	}

	var receipts []models.ReadReceipt
	for key, r := range s.receipts {
		if key.messageID == messageID {
			receipts = append(receipts, r)
		}
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].UserID < receipts[j].UserID
	})
	return receipts, nil
}

// MessageCount returns the number of persisted messages in a conversation
func (s *Store) MessageCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID])
}

func (s *Store) resolveSender(m models.Message) models.Message {
	switch m.Sender.Kind {
	case models.SenderUser:
		if u, ok := s.users[m.Sender.ID]; ok {
			m.Sender = models.UserSender(u)
		}
	case models.SenderAdmin:
		if a, ok := s.admins[m.Sender.ID]; ok {
			m.Sender = models.AdminSender(a)
		}
	}
	return m
}
