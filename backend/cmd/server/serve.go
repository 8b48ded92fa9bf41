// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/efchatnet/campuschat/backend/config"
	"github.com/efchatnet/campuschat/backend/database"
	"github.com/efchatnet/campuschat/backend/integration"
	"github.com/efchatnet/campuschat/backend/metrics"
	"github.com/efchatnet/campuschat/backend/middleware"
	"github.com/efchatnet/campuschat/backend/storage"
	"github.com/efchatnet/campuschat/backend/storage/memory"
	"github.com/efchatnet/campuschat/backend/storage/postgres"
	redisstore "github.com/efchatnet/campuschat/backend/storage/redis"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the chat API server",
		Action: runServe,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the PostgreSQL schema",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			pool := newPool(cfg)
			defer pool.Close()

			store, err := openPostgres(c.Context, pool)
			if err != nil {
				return err
			}
			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

func newPool(cfg *config.Config) *database.Pool {
	return database.NewPool(database.Options{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

func openPostgres(ctx context.Context, pool *database.Pool) (*postgres.Store, error) {
	db, err := pool.DB()
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return postgres.NewStore(db), nil
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		store = memory.NewStore()
	default:
		pool := newPool(cfg)
		defer pool.Close()

		pg, err := openPostgres(ctx, pool)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		store = pg
	}

	var unread *redisstore.UnreadTracker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		defer rdb.Close()
		unread = redisstore.NewUnreadTracker(rdb)
		if err := unread.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable; unread counts disabled until it recovers")
		}
	}

	m := metrics.New()
	chat, err := integration.NewChatIntegration(&integration.Config{
		Store:            store,
		Unread:           unread,
		Metrics:          m,
		JWTSecret:        cfg.Auth.JWTSecret,
		JWTIssuer:        cfg.Auth.JWTIssuer,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		RateLimitRPS:     cfg.RateLimit.RPS,
		RateLimitBurst:   cfg.RateLimit.Burst,
	})
	if err != nil {
		return err
	}
	defer chat.Close()

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.RequestLogger(m))

	chat.RegisterRoutes(r, nil)

	// Health check and metrics (no auth required)
	r.HandleFunc("/health", chat.HealthHandler).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("storage", cfg.Storage.Driver).
			Bool("unread_counters", unread != nil).
			Str("jwt_issuer", cfg.Auth.JWTIssuer).
			Msg("Chat server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
