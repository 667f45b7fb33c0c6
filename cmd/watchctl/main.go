// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Inbox Agent: Watch Control Command
//
// Operator CLI for inspecting and managing the mailbox watch lease and the
// history cursor.
//
// Usage:
//
//	go run ./cmd/watchctl/ status
//	go run ./cmd/watchctl/ renew
//	go run ./cmd/watchctl/ stop
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/checkpoint"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/config"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/gateway"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/lease"
)

// statusReport is printed by the status subcommand.
type statusReport struct {
	Mailbox string             `json:"mailbox"`
	Cursor  *checkpoint.Cursor `json:"cursor"`
	Lease   *checkpoint.Lease  `json:"lease"`
	Expires string             `json:"expires_in,omitempty"`
}

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	timeout := flag.Duration("timeout", time.Minute, "Overall deadline for the command")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: watchctl [--timeout 1m] status|renew|stop\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	store, err := checkpoint.NewPGStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise checkpoint store", "error", err)
		os.Exit(1)
	}

	gmail, err := gateway.NewGmail(ctx, gateway.Credentials{
		ClientID:     cfg.Mailbox.ClientID,
		ClientSecret: cfg.Mailbox.ClientSecret,
		RefreshToken: cfg.Mailbox.RefreshToken,
	}, cfg.Mailbox.Label)
	if err != nil {
		slog.Error("failed to create Gmail gateway", "error", err)
		os.Exit(1)
	}

	mgr := lease.NewManager(lease.Config{
		Store:     store,
		Watcher:   gmail,
		Topic:     cfg.Mailbox.Topic,
		Threshold: cfg.RenewThreshold,
	})

	if err := run(ctx, cmd, cfg.Mailbox.Address, store, mgr); err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd, mailbox string, store checkpoint.Store, mgr *lease.Manager) error {
	switch cmd {
	case "status":
		cur, err := checkpoint.LoadCursor(ctx, store)
		if err != nil {
			return err
		}
		l, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		report := statusReport{Mailbox: mailbox, Cursor: cur, Lease: l}
		if l != nil {
			report.Expires = time.Until(l.ExpiresAt()).Round(time.Minute).String()
		}
		return printJSON(report)

	case "renew":
		res, err := mgr.Renew(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "stop":
		if err := mgr.Stop(ctx); err != nil {
			return err
		}
		return printJSON(map[string]bool{"stopped": true})

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
