// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatview

import (
	"strings"
	"time"

	"github.com/efchatnet/campuschat/backend/models"
)

// SendState is the lifecycle of one outgoing message
type SendState int

const (
	Composing SendState = iota
	OptimisticallyDisplayed
	Confirmed
	FailedRolledBack
)

func (s SendState) String() string {
	switch s {
	case Composing:
		return "composing"
	case OptimisticallyDisplayed:
		return "optimistically_displayed"
	case Confirmed:
		return "confirmed"
	case FailedRolledBack:
		return "failed_rolled_back"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow
func (s SendState) Terminal() bool {
	return s == Confirmed || s == FailedRolledBack
}

const tempIDPrefix = "tmp-"

// IsTempID reports whether id was fabricated locally for an optimistic entry
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Outgoing tracks a single submit from the composer to its terminal state.
type Outgoing struct {
	TempID  string
	Content string
	// Message is the persisted copy once Confirmed
	Message *models.Message
	Err     error

	trail []SendState
}

func (o *Outgoing) transition(to SendState) {
	o.trail = append(o.trail, to)
}

// State is the most recent state of the send
func (o *Outgoing) State() SendState {
	if len(o.trail) == 0 {
		return Composing
	}
	return o.trail[len(o.trail)-1]
}

// Trail returns every state the send went through, in order
func (o *Outgoing) Trail() []SendState {
	return append([]SendState(nil), o.trail...)
}

// Entry is one line of the displayed message list. Pending entries carry a
// temporary id and a local timestamp until the store confirms them.
type Entry struct {
	models.Message
	Pending bool
}

func pendingEntry(tempID, conversationID string, viewer models.Sender, content string, at time.Time) Entry {
	return Entry{
		Message: models.Message{
			ID:             tempID,
			ConversationID: conversationID,
			Sender:         viewer,
			Content:        content,
			CreatedAt:      at,
		},
		Pending: true,
	}
}
