// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package database owns the process-wide connection pool.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("database pool is closed")

type Options struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// Opener creates the underlying handle. Tests substitute it.
type Opener func(opts Options) (*sql.DB, error)

func openPostgres(opts Options) (*sql.DB, error) {
	return sql.Open("postgres", opts.URL)
}

// Pool opens the database on first use and hands out the same *sql.DB for
// the lifetime of the process.
type Pool struct {
	opts   Options
	opener Opener

	once    sync.Once
	mu      sync.Mutex
	db      *sql.DB
	openErr error
	closed  bool
}

func NewPool(opts Options) *Pool {
	return NewPoolWithOpener(opts, openPostgres)
}

func NewPoolWithOpener(opts Options, opener Opener) *Pool {
	return &Pool{opts: opts, opener: opener}
}

// DB returns the shared handle, opening it on the first call
func (p *Pool) DB() (*sql.DB, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	p.once.Do(func() {
		db, err := p.opener(p.opts)
		if err != nil {
			p.openErr = fmt.Errorf("failed to open database: %w", err)
			return
		}
		if p.opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(p.opts.MaxOpenConns)
		}
		if p.opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(p.opts.MaxIdleConns)
		}
		db.SetConnMaxIdleTime(5 * time.Minute)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			// Close ran while the handle was being opened
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close database opened after shutdown")
			}
			p.openErr = ErrClosed
			return
		}
		p.db = db
		log.Debug().Int("max_open_conns", p.opts.MaxOpenConns).Msg("Database pool opened")
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.db, nil
}

func (p *Pool) Ping(ctx context.Context) error {
	db, err := p.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close releases the pool. Calling it more than once is harmless.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
