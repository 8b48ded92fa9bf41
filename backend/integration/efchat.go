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

package integration

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/efchatnet/campuschat/backend/handlers"
	"github.com/efchatnet/campuschat/backend/messaging"
	"github.com/efchatnet/campuschat/backend/metrics"
	"github.com/efchatnet/campuschat/backend/middleware"
	"github.com/efchatnet/campuschat/backend/storage"
	redisstore "github.com/efchatnet/campuschat/backend/storage/redis"
)

const APIPrefix = "/api/chat"

// ChatIntegration provides campus messaging as a plugin for efchat
type ChatIntegration struct {
	svc                 *messaging.Service
	store               storage.Store
	unread              *redisstore.UnreadTracker
	metrics             *metrics.Metrics
	limiter             *middleware.RateLimiter
	identity            *handlers.IdentitySync
	conversationHandler *handlers.ConversationHandler
	messageHandler      *handlers.MessageHandler
	jwtSecret           string
	jwtIssuer           string
}

// Config holds configuration for the chat integration
type Config struct {
	Store storage.Store
	// Unread is optional; nil disables unread counters
	Unread           *redisstore.UnreadTracker
	Metrics          *metrics.Metrics
	JWTSecret        string
	JWTIssuer        string
	MaxMessageLength int
	RateLimitRPS     float64
	RateLimitBurst   int
}

// NewChatIntegration creates a chat integration that can be embedded into efchat
func NewChatIntegration(config *Config) (*ChatIntegration, error) {
	if config.Store == nil {
		return nil, &ValidationError{Message: "storage is not configured"}
	}

	opts := messaging.Options{
		Metrics:          config.Metrics,
		MaxMessageLength: config.MaxMessageLength,
	}
	if config.Unread != nil {
		opts.Unread = config.Unread
	}
	svc := messaging.NewService(config.Store, opts)

	rps, burst := config.RateLimitRPS, config.RateLimitBurst
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 10
	}
	limiter := middleware.NewRateLimiter(rps, burst)
	limiter.OnReject = func(*http.Request) {
		config.Metrics.ObserveAppend(metrics.ResultLimited, 0)
	}

	e := &ChatIntegration{
		svc:                 svc,
		store:               config.Store,
		unread:              config.Unread,
		metrics:             config.Metrics,
		limiter:             limiter,
		identity:            handlers.NewIdentitySync(svc),
		conversationHandler: handlers.NewConversationHandler(svc),
		messageHandler:      handlers.NewMessageHandler(svc),
		jwtSecret:           config.JWTSecret,
		jwtIssuer:           config.JWTIssuer,
	}
	if err := e.ValidateSetup(); err != nil {
		limiter.Stop()
		return nil, err
	}
	return e, nil
}

// RegisterRoutes adds chat routes to an existing router
// If authMiddleware is nil, it will use the built-in JWT validation. A host
// middleware must store the caller with middleware.WithIdentity.
func (e *ChatIntegration) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix(APIPrefix).Subrouter()

	if authMiddleware != nil {
		api.Use(authMiddleware)
	} else {
		api.Use(middleware.NewAuthMiddleware(e.jwtSecret, e.jwtIssuer))
	}
	api.Use(e.identity.Middleware)

	api.HandleFunc("/conversations", e.conversationHandler.ListConversations).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations", e.conversationHandler.CreateConversation).Methods("POST", "OPTIONS")
	api.HandleFunc("/conversations/{conversationId}/participants", e.conversationHandler.GetParticipants).Methods("GET", "OPTIONS")

	api.HandleFunc("/conversations/{conversationId}/messages", e.messageHandler.ListMessages).Methods("GET", "OPTIONS")
	api.Handle("/conversations/{conversationId}/messages", e.limiter.Limit(http.HandlerFunc(e.messageHandler.SendMessage))).Methods("POST", "OPTIONS")
	api.HandleFunc("/conversations/{conversationId}/read", e.messageHandler.MarkRead).Methods("POST", "OPTIONS")
	api.HandleFunc("/conversations/{conversationId}/messages/{messageId}/receipts", e.messageHandler.GetReceipts).Methods("GET", "OPTIONS")
}

// HealthHandler reports whether the store (and Redis, when enabled) answer
func (e *ChatIntegration) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := e.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check: database unavailable")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Database unavailable"))
		return
	}
	if e.unread != nil {
		if err := e.unread.Ping(ctx); err != nil {
			// Unread counters are optional; report degraded, not down
			log.Warn().Err(err).Msg("Health check: redis unavailable")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Degraded: redis unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Service returns the messaging service behind the routes
func (e *ChatIntegration) Service() *messaging.Service {
	return e.svc
}

// Close stops background work started by the integration
func (e *ChatIntegration) Close() {
	e.limiter.Stop()
}

// ValidateSetup checks if the chat module is properly configured
func (e *ChatIntegration) ValidateSetup() error {
	if e.jwtSecret == "" {
		return &ValidationError{Message: "JWT secret is not configured"}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
