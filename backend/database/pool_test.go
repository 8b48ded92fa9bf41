// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_OpensOnce(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	var opened int32
	pool := NewPoolWithOpener(Options{MaxOpenConns: 4}, func(Options) (*sql.DB, error) {
		atomic.AddInt32(&opened, 1)
		return db, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := pool.DB()
			assert.NoError(t, err)
			assert.Same(t, db, got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&opened))

	mock.ExpectPing()
	require.NoError(t, pool.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_ClosedPool(t *testing.T) {
	pool := NewPoolWithOpener(Options{}, func(Options) (*sql.DB, error) {
		t.Fatal("closed pool must not open")
		return nil, nil
	})
	require.NoError(t, pool.Close())

	_, err := pool.DB()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, pool.Ping(context.Background()), ErrClosed)
}

func TestPool_OpenError(t *testing.T) {
	boom := errors.New("bad dsn")
	pool := NewPoolWithOpener(Options{}, func(Options) (*sql.DB, error) {
		return nil, boom
	})

	_, err := pool.DB()
	assert.ErrorIs(t, err, boom)
	_, err = pool.DB()
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, pool.Close())
}

func TestPool_CloseDuringOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	var pool *Pool
	pool = NewPoolWithOpener(Options{}, func(Options) (*sql.DB, error) {
		require.NoError(t, pool.Close())
		return db, nil
	})

	got, err := pool.DB()
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = pool.DB()
	assert.ErrorIs(t, err, ErrClosed)
}
