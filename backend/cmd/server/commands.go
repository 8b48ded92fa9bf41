// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/efchatnet/campuschat/backend/chatview"
	"github.com/efchatnet/campuschat/backend/client"
	"github.com/efchatnet/campuschat/backend/config"
	"github.com/efchatnet/campuschat/backend/messaging"
	"github.com/efchatnet/campuschat/backend/middleware"
	"github.com/efchatnet/campuschat/backend/models"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   config.DefaultConfigFile,
					},
				},
				Action: func(c *cli.Context) error {
					outputPath := c.String("output")
					if err := config.InitConfig(outputPath); err != nil {
						return fmt.Errorf("failed to initialize config: %w", err)
					}
					fmt.Printf("Created configuration file at %s\n", outputPath)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Validate the configuration",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if err := cfg.Validate(); err != nil {
						return fmt.Errorf("invalid configuration: %w", err)
					}
					fmt.Println("Configuration is valid")
					return nil
				},
			},
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Sign a development token with the configured secret",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user-id", Required: true},
			&cli.StringFlag{Name: "username"},
			&cli.StringFlag{Name: "display-name"},
			&cli.BoolFlag{Name: "admin", Usage: "Grant the admin role"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required to sign tokens")
			}

			id := middleware.Identity{
				UserID:      c.String("user-id"),
				Username:    c.String("username"),
				DisplayName: c.String("display-name"),
			}
			if id.Username == "" {
				id.Username = id.UserID
			}
			if c.Bool("admin") {
				id.Roles = []string{middleware.RoleAdmin}
			}

			token, err := middleware.NewToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, id, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

var remoteFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "api",
		Usage:   "Base URL of the chat server",
		Value:   "http://localhost:8081",
		EnvVars: []string{"CAMPUSCHAT_API_URL"},
	},
	&cli.StringFlag{
		Name:     "token",
		Usage:    "Bearer token",
		EnvVars:  []string{"CAMPUSCHAT_TOKEN"},
		Required: true,
	},
}

func remoteClient(c *cli.Context) (*client.Client, *middleware.Claims, error) {
	claims, err := middleware.PeekClaims(c.String("token"))
	if err != nil {
		return nil, nil, fmt.Errorf("unreadable token: %w", err)
	}
	return client.New(c.String("api"), c.String("token")), claims, nil
}

func conversationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conversations",
		Usage: "List your conversations",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "q", Usage: "Only show conversations matching `TERM`"},
		}, remoteFlags...),
		Action: func(c *cli.Context) error {
			api, claims, err := remoteClient(c)
			if err != nil {
				return err
			}
			summaries, err := api.ListConversations(c.Context, claims.UserID)
			if err != nil {
				return err
			}

			for _, s := range messaging.FilterSummaries(summaries, c.String("q")) {
				unread := ""
				if s.UnreadCount > 0 {
					unread = fmt.Sprintf(" (%d unread)", s.UnreadCount)
				}
				fmt.Printf("%s  %-6s  %s%s\n    %s\n", s.ID, s.Type, s.DisplayName(), unread, s.Preview())
			}
			return nil
		},
	}
}

func messagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "messages",
		Usage: "Print a conversation and mark it read",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "conversation", Required: true},
		}, remoteFlags...),
		Action: func(c *cli.Context) error {
			api, claims, err := remoteClient(c)
			if err != nil {
				return err
			}
			view := chatview.New(api, models.Sender{Kind: models.SenderUser, ID: claims.UserID}, c.String("conversation"))
			if err := view.Open(c.Context); err != nil {
				return err
			}
			printEntries(view, claims.UserID)

			if _, err := view.MarkVisibleRead(c.Context); err != nil {
				return err
			}
			return nil
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message",
		ArgsUsage: "TEXT...",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "conversation", Required: true},
			&cli.BoolFlag{Name: "as-admin", Usage: "Post as your administrator account"},
		}, remoteFlags...),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			api, claims, err := remoteClient(c)
			if err != nil {
				return err
			}

			viewer := models.Sender{Kind: models.SenderUser, ID: claims.UserID, Name: claims.DisplayName}
			if c.Bool("as-admin") {
				viewer.Kind = models.SenderAdmin
			}
			view := chatview.New(api, viewer, c.String("conversation"), chatview.WithSendTimeout(cfg.Chat.SendTimeout))
			if err := view.Open(c.Context); err != nil {
				return err
			}

			view.SetDraft(strings.Join(c.Args().Slice(), " "))
			if !view.CanSubmit() {
				return errors.New("nothing to send")
			}

			out, err := view.Submit(c.Context)
			if out != nil {
				states := make([]string, 0, len(out.Trail()))
				for _, s := range out.Trail() {
					states = append(states, s.String())
				}
				fmt.Println(strings.Join(states, " -> "))
			}
			if err != nil {
				return err
			}
			printEntries(view, claims.UserID)
			return nil
		},
	}
}

func printEntries(view *chatview.View, viewerID string) {
	for _, e := range view.Messages() {
		who := e.Sender.DisplayName()
		if e.IsMine(viewerID) {
			who = "you"
		}
		fmt.Printf("[%s] %s: %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), who, e.Content)
	}
}
