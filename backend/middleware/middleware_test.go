// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/campuschat/backend/metrics"
)

const (
	testSecret = "test-secret"
	testIssuer = "efchat"
)

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(id.UserID))
	})
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := NewToken(testSecret, testIssuer, Identity{UserID: "u1", Username: "alice", Roles: []string{RoleAdmin}}, time.Hour)
	require.NoError(t, err)
	expired, err := NewToken(testSecret, testIssuer, Identity{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := NewToken(testSecret, "someone-else", Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	wrongSecret, err := NewToken("other-secret", testIssuer, Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + valid, status: http.StatusOK},
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + wrongIssuer, status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + wrongSecret, status: http.StatusUnauthorized},
		{name: "alg none", header: "Bearer " + noneAlg, status: http.StatusUnauthorized},
	}

	handler := NewAuthMiddleware(testSecret, testIssuer)(echoIdentity())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chat/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
			}
		})
	}
}

func TestParseToken_Identity(t *testing.T) {
	token, err := NewToken(testSecret, testIssuer, Identity{
		UserID:      "u9",
		Username:    "dana",
		DisplayName: "Dana",
		Roles:       []string{"student"},
	}, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "u9", claims.UserID)
	assert.Equal(t, "Dana", claims.DisplayName)
	assert.False(t, Identity{Roles: claims.Roles}.IsAdmin())
	assert.True(t, Identity{Roles: []string{"student", RoleAdmin}}.IsAdmin())
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://campus.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/conversations", nil)
	req.Header.Set("Origin", "https://campus.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://campus.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/chat/conversations", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter_PerCaller(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	t.Cleanup(limiter.Stop)

	var rejected int
	limiter.OnReject = func(*http.Request) { rejected++ }

	handler := limiter.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/conversations/c1/messages", nil)
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, send("u1"))
	assert.Equal(t, http.StatusCreated, send("u1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
	assert.Equal(t, http.StatusCreated, send("u2"))
	assert.Equal(t, 1, rejected)
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	t.Cleanup(limiter.Stop)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("u1")
	limiter.Allow("u2")
	now = now.Add(5 * time.Minute)
	limiter.Allow("u2")

	now = now.Add(6 * time.Minute)
	limiter.evictIdle()
	assert.Equal(t, 1, limiter.size())
}

func TestRequestLogger_CountsByRoute(t *testing.T) {
	m := metrics.New()
	router := mux.NewRouter()
	router.Use(RequestLogger(m))
	router.HandleFunc("/api/chat/conversations/{conversationId}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/conversations/"+id+"/messages", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	expected := `
# HELP campuschat_http_requests_total HTTP requests by route template and status code.
# TYPE campuschat_http_requests_total counter
campuschat_http_requests_total{code="404",route="/api/chat/conversations/{conversationId}/messages"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected), "campuschat_http_requests_total"))
}
