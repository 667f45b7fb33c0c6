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

// Package lease keeps the mailbox push watch alive. The watch lease is
// renewed whenever it is absent or within the renewal threshold of expiry.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/checkpoint"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/gateway"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/metrics"
)

// DefaultThreshold is how close to expiry a lease must be before renewal.
const DefaultThreshold = 24 * time.Hour

// Watcher starts and stops the provider's push watch.
type Watcher interface {
	StartWatch(ctx context.Context, topic string) (gateway.Watch, error)
	StopWatch(ctx context.Context) error
}

// Result reports the outcome of a renewal check.
type Result struct {
	Renewed   bool      `json:"renewed"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds the lease manager's dependencies.
type Config struct {
	Store     checkpoint.Store
	Watcher   Watcher
	Topic     string
	Threshold time.Duration
	Metrics   *metrics.Metrics
}

// Manager renews the watch lease.
type Manager struct {
	store     checkpoint.Store
	watcher   Watcher
	topic     string
	threshold time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	// mu only collapses overlapping calls within this process. Renewal is
	// idempotent across processes.
	mu sync.Mutex
}

// NewManager creates a lease manager.
func NewManager(cfg Config) *Manager {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Manager{
		store:     cfg.Store,
		watcher:   cfg.Watcher,
		topic:     cfg.Topic,
		threshold: cfg.Threshold,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
}

// RenewIfNeeded renews the lease when none is stored or the stored one
// expires within the threshold.
func (m *Manager) RenewIfNeeded(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := checkpoint.LoadLease(ctx, m.store)
	if err != nil {
		m.metrics.LeaseRenewal("error", time.Time{})
		return Result{}, err
	}

	if current != nil {
		remaining := current.ExpiresAt().Sub(m.now())
		if remaining > m.threshold {
			slog.Debug("watch lease still valid",
				"expires_at", current.ExpiresAt(),
				"remaining", remaining.Round(time.Minute),
			)
			m.metrics.LeaseRenewal("skipped", current.ExpiresAt())
			return Result{Renewed: false, ExpiresAt: current.ExpiresAt()}, nil
		}
		slog.Info("renewing near-expiry watch lease",
			"expires_at", current.ExpiresAt(),
			"remaining", remaining.Round(time.Minute),
		)
	} else {
		slog.Info("no watch lease stored, starting watch")
	}

	return m.renew(ctx)
}

// Renew starts a fresh watch regardless of the stored expiry.
func (m *Manager) Renew(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renew(ctx)
}

func (m *Manager) renew(ctx context.Context) (Result, error) {
	w, err := m.watcher.StartWatch(ctx, m.topic)
	if err != nil {
		m.metrics.LeaseRenewal("error", time.Time{})
		return Result{}, fmt.Errorf("start watch: %w", err)
	}

	now := m.now().UTC()
	l := checkpoint.Lease{
		ExpiresAtMs: w.Expiration.UnixMilli(),
		StartedAt:   now,
		HistoryID:   w.HistoryID,
	}
	if err := checkpoint.SaveLease(ctx, m.store, l); err != nil {
		m.metrics.LeaseRenewal("error", time.Time{})
		return Result{}, err
	}

	// A watch started before any notification gives the first cursor.
	cur, err := checkpoint.LoadCursor(ctx, m.store)
	if err != nil {
		slog.Warn("could not read cursor after renewal", "error", err)
	} else if cur == nil && w.HistoryID != "" {
		if err := checkpoint.SaveCursor(ctx, m.store, w.HistoryID, now); err != nil {
			slog.Warn("could not seed cursor from watch", "history_id", w.HistoryID, "error", err)
		} else {
			slog.Info("history cursor seeded from watch", "history_id", w.HistoryID)
		}
	}

	m.metrics.LeaseRenewal("renewed", l.ExpiresAt())
	slog.Info("watch lease renewed",
		"expires_at", l.ExpiresAt(),
		"history_id", w.HistoryID,
	)
	return Result{Renewed: true, ExpiresAt: l.ExpiresAt()}, nil
}

// Stop stops the watch and clears the stored lease.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.watcher.StopWatch(ctx); err != nil {
		return fmt.Errorf("stop watch: %w", err)
	}
	if err := checkpoint.ClearLease(ctx, m.store); err != nil {
		return err
	}
	slog.Info("watch stopped and lease cleared")
	return nil
}

// Status returns the stored lease, or nil if none exists.
func (m *Manager) Status(ctx context.Context) (*checkpoint.Lease, error) {
	return checkpoint.LoadLease(ctx, m.store)
}

// Run is a scheduler job that logs renewal failures instead of returning
// them.
func (m *Manager) Run(ctx context.Context) {
	if _, err := m.RenewIfNeeded(ctx); err != nil {
		slog.Error("scheduled lease renewal failed", "error", err)
	}
}
