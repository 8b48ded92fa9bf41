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

// Package chatview drives a single open conversation for a presentation
// layer: it loads the directory and the history, and sends messages
// optimistically with rollback on failure.
package chatview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/efchatnet/campuschat/backend/messaging"
	"github.com/efchatnet/campuschat/backend/models"
)

var (
	ErrSendInFlight = errors.New("a message is already being sent")
	ErrEmptyDraft   = errors.New("draft is empty")
)

const DefaultSendTimeout = 15 * time.Second

// Backend is the directory and message store as seen by a view. It is
// satisfied in-process by *messaging.Service and remotely by *client.Client.
type Backend interface {
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID string, sender models.Sender, content string) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error)
}

type View struct {
	backend        Backend
	viewer         models.Sender
	conversationID string
	sendTimeout    time.Duration
	now            func() time.Time

	mu            sync.Mutex
	draft         string
	inFlight      *Outgoing
	conversations []models.ConversationSummary
	entries       []Entry
	marked        map[string]bool
	lastErr       error
}

type Option func(*View)

// WithSendTimeout bounds how long a send may stay optimistically displayed
func WithSendTimeout(d time.Duration) Option {
	return func(v *View) {
		if d > 0 {
			v.sendTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

func New(backend Backend, viewer models.Sender, conversationID string, opts ...Option) *View {
	v := &View{
		backend:        backend,
		viewer:         viewer,
		conversationID: conversationID,
		sendTimeout:    DefaultSendTimeout,
		now:            time.Now,
		marked:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open loads the conversation list and the open conversation's history.
// A failed load leaves the corresponding list empty.
func (v *View) Open(ctx context.Context) error {
	summaries, err := v.backend.ListConversations(ctx, v.viewer.ID)

	v.mu.Lock()
	if err != nil {
		v.conversations = nil
		v.lastErr = err
	} else {
		v.conversations = summaries
	}
	v.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	return v.Refresh(ctx)
}

// Refresh replaces the displayed history with the server order. Pending
// entries stay at the end of the list until the stored copy shows up.
func (v *View) Refresh(ctx context.Context) error {
	msgs, err := v.backend.ListMessages(ctx, v.conversationID)

	v.mu.Lock()
	defer v.mu.Unlock()

	pending := v.pendingEntries()
	if err != nil {
		v.entries = pending
		v.lastErr = err
		return fmt.Errorf("failed to load messages: %w", err)
	}

	entries := make([]Entry, 0, len(msgs)+len(pending))
	for _, m := range msgs {
		entries = append(entries, Entry{Message: m})
	}
	v.entries = append(entries, v.unmatchedPending(pending, msgs)...)
	return nil
}

// unmatchedPending drops pending entries whose send was already stored. A
// stored message matches when it was not displayed before this refresh and
// has the viewer as sender and the same content. Each stored message
// matches at most one pending entry.
func (v *View) unmatchedPending(pending []Entry, msgs []models.Message) []Entry {
	if len(pending) == 0 {
		return nil
	}

	known := make(map[string]bool, len(v.entries))
	for _, e := range v.entries {
		if !e.Pending {
			known[e.ID] = true
		}
	}

	claimed := make(map[string]bool)
	var out []Entry
	for _, p := range pending {
		matched := false
		for _, m := range msgs {
			if known[m.ID] || claimed[m.ID] {
				continue
			}
			if m.Sender.Kind == v.viewer.Kind && m.Sender.ID == v.viewer.ID && m.Content == p.Content {
				claimed[m.ID] = true
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, p)
		}
	}
	return out
}

func (v *View) pendingEntries() []Entry {
	var pending []Entry
	for _, e := range v.entries {
		if e.Pending {
			pending = append(pending, e)
		}
	}
	return pending
}

func (v *View) SetDraft(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.draft = text
}

func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// CanSubmit is true when the draft has content and nothing is in flight
func (v *View) CanSubmit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inFlight == nil && strings.TrimSpace(v.draft) != ""
}

func (v *View) Sending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inFlight != nil
}

// Submit sends the current draft. The message is shown immediately with a
// temporary id and the composer is cleared; on success the entry is replaced
// by the stored message, on failure or timeout it is removed. The draft is
// not restored after a failure.
func (v *View) Submit(ctx context.Context) (*Outgoing, error) {
	v.mu.Lock()
	if v.inFlight != nil {
		v.mu.Unlock()
		return nil, ErrSendInFlight
	}
	content := strings.TrimSpace(v.draft)
	if content == "" {
		v.mu.Unlock()
		return nil, ErrEmptyDraft
	}

	out := &Outgoing{
		TempID:  tempIDPrefix + uuid.New().String(),
		Content: content,
	}
	out.transition(Composing)

	v.entries = append(v.entries, pendingEntry(out.TempID, v.conversationID, v.viewer, content, v.now().UTC()))
	v.draft = ""
	v.inFlight = out
	out.transition(OptimisticallyDisplayed)
	v.mu.Unlock()

	msg, err := v.send(ctx, content)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.inFlight = nil

	if err != nil {
		v.removeEntry(out.TempID)
		out.Err = err
		out.transition(FailedRolledBack)
		v.lastErr = err
		log.Warn().
			Err(err).
			Str("conversation_id", v.conversationID).
			Str("temp_id", out.TempID).
			Msg("Send failed, optimistic message rolled back")
		return out, err
	}

	v.confirmEntry(out.TempID, *msg)
	out.Message = msg
	out.transition(Confirmed)
	return out, nil
}

type sendResult struct {
	msg *models.Message
	err error
}

// send calls the backend and gives up after the send timeout even when the
// backend does not honour ctx. A late result is dropped.
func (v *View) send(ctx context.Context, content string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, v.sendTimeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		msg, err := v.backend.SendMessage(ctx, v.conversationID, v.viewer, content)
		done <- sendResult{msg: msg, err: err}
	}()

	select {
	case res := <-done:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("send timed out: %w", ctx.Err())
	}
}

func (v *View) removeEntry(id string) {
	for i, e := range v.entries {
		if e.ID == id {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			return
		}
	}
}

func (v *View) confirmEntry(tempID string, msg models.Message) {
	// A refresh may already have brought in the stored copy
	for _, e := range v.entries {
		if !e.Pending && e.ID == msg.ID {
			v.removeEntry(tempID)
			return
		}
	}
	for i, e := range v.entries {
		if e.ID == tempID {
			v.entries[i] = Entry{Message: msg}
			return
		}
	}
	v.entries = append(v.entries, Entry{Message: msg})
}

// MarkVisibleRead records receipts for every displayed message the viewer
// did not send. Each message is reported at most once per view.
func (v *View) MarkVisibleRead(ctx context.Context) (int64, error) {
	if v.viewer.Kind != models.SenderUser {
		return 0, nil
	}

	v.mu.Lock()
	var ids []string
	for _, e := range v.entries {
		if e.Pending || e.IsMine(v.viewer.ID) || v.marked[e.ID] {
			continue
		}
		ids = append(ids, e.ID)
	}
	v.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}

	created, err := v.backend.MarkRead(ctx, v.conversationID, v.viewer.ID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}

	v.mu.Lock()
	for _, id := range ids {
		v.marked[id] = true
	}
	v.mu.Unlock()
	return created, nil
}

// Messages returns a snapshot of the displayed list
func (v *View) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Entry(nil), v.entries...)
}

// Conversations returns the sidebar, filtered by term
func (v *View) Conversations(term string) []models.ConversationSummary {
	v.mu.Lock()
	defer v.mu.Unlock()
	return messaging.FilterSummaries(append([]models.ConversationSummary(nil), v.conversations...), term)
}

// Err is the last error surfaced to the user
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

func (v *View) Viewer() models.Sender {
	return v.viewer
}

func (v *View) ConversationID() string {
	return v.conversationID
}
