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

// Inbox Agent Service
//
// Entry point for the inbox agent. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds the Gmail gateway, CRM store, and agent
//  4. Serves the push webhook, renewal trigger, health and metrics endpoints
//  5. Ensures the watch lease is live and runs the optional schedules
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/actions"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/agent"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/checkpoint"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/config"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/crm"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/dedup"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/gateway"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/lease"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/metrics"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/processor"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/queue"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/resolver"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/scheduler"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/webhook"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting inbox agent service",
		"mailbox", cfg.Mailbox.Address,
		"label", cfg.Mailbox.Label,
		"model", cfg.LLM.Model,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.NotificationsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Stores ---
	checkpoints, err := checkpoint.NewPGStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise checkpoint store", "error", err)
		os.Exit(1)
	}
	crmStore, err := crm.NewPGStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise CRM store", "error", err)
		os.Exit(1)
	}
	ledger, err := dedup.NewLedger(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise dedup ledger", "error", err)
		os.Exit(1)
	}
	index := dedup.NewIndex(dedup.NewFilter(rdb), ledger)
	retries := queue.NewRetryQueue(rdb, cfg.RetryKey)

	// --- Mailbox Gateway ---
	gmail, err := gateway.NewGmail(ctx, gateway.Credentials{
		ClientID:     cfg.Mailbox.ClientID,
		ClientSecret: cfg.Mailbox.ClientSecret,
		RefreshToken: cfg.Mailbox.RefreshToken,
	}, cfg.Mailbox.Label)
	if err != nil {
		slog.Error("failed to create Gmail gateway", "error", err)
		os.Exit(1)
	}

	// --- Agent ---
	model := agent.NewAnthropic(agent.AnthropicConfig{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
		Timeout:   cfg.LLM.Timeout,
	})
	orchestrator, err := agent.New(model, actions.New(crmStore), agent.Options{
		MaxTurns:  cfg.MaxTurns,
		BodyLimit: cfg.BodyLimit,
	})
	if err != nil {
		slog.Error("failed to build agent", "error", err)
		os.Exit(1)
	}

	// --- Lease Manager ---
	leases := lease.NewManager(lease.Config{
		Store:     checkpoints,
		Watcher:   gmail,
		Topic:     cfg.Mailbox.Topic,
		Threshold: cfg.RenewThreshold,
		Metrics:   m,
	})

	// --- Event Processor ---
	proc := processor.New(processor.Config{
		Mailbox:          cfg.Mailbox.Address,
		Checkpoints:      checkpoints,
		Gateway:          gmail,
		Dedup:            index,
		Retries:          retries,
		Resolver:         resolver.New(crmStore),
		Agent:            orchestrator,
		Store:            crmStore,
		Notifier:         publisher,
		Lease:            leases,
		Metrics:          m,
		BodyLimit:        cfg.BodyLimit,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
	})

	// --- HTTP Server ---
	handler := webhook.NewHandler(webhook.Config{
		Processor:         proc,
		Lease:             leases,
		VerificationToken: cfg.VerificationToken,
		CronSecret:        cfg.CronSecret,
		Checks: map[string]webhook.Pinger{
			"postgres": pgPool,
			"redis":    publisher,
		},
		Gatherer: reg,
		Metrics:  m,
	})
	ready, stopped, err := webhook.Serve(ctx, cfg.Port, handler.Routes())
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	// Make sure pushes are flowing before waiting for the first trigger.
	if res, err := leases.RenewIfNeeded(ctx); err != nil {
		slog.Error("initial lease check failed", "error", err)
	} else {
		slog.Info("watch lease checked", "renewed", res.Renewed, "expires_at", res.ExpiresAt)
	}

	// --- Schedules ---
	sched := scheduler.New()
	if cfg.LeaseSchedule != "" {
		if err := sched.Add("lease-renewal", cfg.LeaseSchedule, leases.Run); err != nil {
			slog.Error("invalid lease schedule", "error", err)
			os.Exit(1)
		}
	}
	if cfg.PollSchedule != "" {
		if err := sched.Add("safety-net-poll", cfg.PollSchedule, proc.RunPoll); err != nil {
			slog.Error("invalid poll schedule", "error", err)
			os.Exit(1)
		}
	}
	sched.Start()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	sched.Stop(30 * time.Second)
	cancel()
	<-stopped

	slog.Info("inbox agent service stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
