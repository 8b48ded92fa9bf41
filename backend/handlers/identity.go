// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/efchatnet/campuschat/backend/messaging"
	"github.com/efchatnet/campuschat/backend/middleware"
	"github.com/efchatnet/campuschat/backend/models"
)

// IdentitySync mirrors the authenticated caller into the users (and admins)
// table. Each distinct identity is written once per process.
type IdentitySync struct {
	svc  *messaging.Service
	seen sync.Map
}

func NewIdentitySync(svc *messaging.Service) *IdentitySync {
	return &IdentitySync{svc: svc}
}

func userFromIdentity(id middleware.Identity) models.User {
	return models.User{
		ID:          id.UserID,
		Username:    id.Username,
		DisplayName: id.DisplayName,
		AvatarURL:   id.AvatarURL,
	}
}

func adminFromIdentity(id middleware.Identity) models.Admin {
	return models.Admin{
		ID:          id.UserID,
		DisplayName: userFromIdentity(id).Name(),
		AvatarURL:   id.AvatarURL,
	}
}

func (s *IdentitySync) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
			return
		}

		user := userFromIdentity(id)
		key := user.ID + "\x00" + user.Username + "\x00" + user.DisplayName + "\x00" + user.AvatarURL
		if id.IsAdmin() {
			key += "\x00admin"
		}

		if _, done := s.seen.Load(key); !done {
			if err := s.svc.SyncUser(r.Context(), user); err != nil {
				writeServiceError(w, r, err)
				return
			}
			if id.IsAdmin() {
				if err := s.svc.SyncAdmin(r.Context(), adminFromIdentity(id)); err != nil {
					writeServiceError(w, r, err)
					return
				}
			}
			s.seen.Store(key, struct{}{})
			log.Debug().Str("user_id", user.ID).Msg("Identity synced")
		}

		next.ServeHTTP(w, r)
	})
}
