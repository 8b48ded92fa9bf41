// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	limiterTTL           = 10 * time.Minute
	limiterCleanupPeriod = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller. Buckets idle for longer
// than the TTL are evicted by a background loop started on first use.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu           sync.Mutex
	m            map[string]*limiterEntry
	ttl          time.Duration
	startCleanup sync.Once
	stopOnce     sync.Once
	stop         chan struct{}
	now          func() time.Time

	// OnReject is called for every rejected request
	OnReject func(r *http.Request)
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:   rate.Limit(rps),
		burst: burst,
		m:     make(map[string]*limiterEntry),
		ttl:   limiterTTL,
		stop:  make(chan struct{}),
		now:   time.Now,
	}
}

func (p *RateLimiter) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() {
		go p.cleanupLoop(limiterCleanupPeriod)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = p.now()
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: p.now()}
	return l
}

func (p *RateLimiter) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *RateLimiter) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stop:
			return
		}
	}
}

func (p *RateLimiter) evictIdle() {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// Stop ends the cleanup loop
func (p *RateLimiter) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *RateLimiter) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Limit rejects requests over the caller's budget with 429. Authenticated
// callers are keyed by user id, anonymous ones by remote address.
func (p *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := GetUserID(r)
		if !ok || key == "" {
			key, _, _ = net.SplitHostPort(r.RemoteAddr)
			if key == "" {
				key = r.RemoteAddr
			}
		}

		if !p.Allow(key) {
			log.Debug().Str("caller", key).Str("path", r.URL.Path).Msg("Rate limited")
			if p.OnReject != nil {
				p.OnReject(r)
			}
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
