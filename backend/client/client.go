// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package client talks to a campuschat server over its JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/efchatnet/campuschat/backend/models"
	"github.com/efchatnet/campuschat/backend/storage"
)

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("campuschat: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets callers match server errors against the storage sentinels
func (e *APIError) Is(target error) bool {
	switch target {
	case storage.ErrNotFound:
		return e.Code == "not_found"
	case storage.ErrNotParticipant:
		return e.Code == "forbidden"
	case storage.ErrInvalidConversation:
		return e.Code == "invalid_request"
	}
	return false
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("API call")

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func conversationPath(conversationID string, rest string) string {
	return "/api/chat/conversations/" + url.PathEscape(conversationID) + rest
}

// ListConversations lists the token holder's conversations. userID is
// implied by the token and only kept for interface compatibility.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var out struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, convType models.ConversationType, title string, memberIDs []string) (*models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/api/chat/conversations", map[string]interface{}{
		"type":       convType,
		"title":      title,
		"member_ids": memberIDs,
	}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "/messages"), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage posts content as the token holder. An admin sender posts as
// the holder's administrator account.
func (c *Client) SendMessage(ctx context.Context, conversationID string, sender models.Sender, content string) (*models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/messages"), map[string]interface{}{
		"content":  content,
		"as_admin": sender.Kind == models.SenderAdmin,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error) {
	var out struct {
		Created int64 `json:"created"`
	}
	err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), map[string]interface{}{
		"message_ids": messageIDs,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Created, nil
}
