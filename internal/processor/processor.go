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

// Package processor turns mailbox notifications into processed messages.
// Each sync lists the messages added since the stored history cursor,
// queues them durably, advances the cursor, and then processes them one at
// a time: dedup claim, fetch, contact resolution, agent run, audit record
// and admin notification.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/agent"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/checkpoint"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/dedup"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/gateway"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/lease"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/metrics"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/queue"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/resolver"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/retry"
)

// DefaultMaxRetryAttempts is how often a failing message is retried before
// it is dropped from the retry queue.
const DefaultMaxRetryAttempts = 5

// ErrUnknownAccount is returned for notifications about another mailbox.
var ErrUnknownAccount = errors.New("notification for unknown account")

// Gateway is the mailbox gateway as used by the processor.
type Gateway interface {
	ListChanges(ctx context.Context, cursor string) (gateway.ChangeSet, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	CurrentCursor(ctx context.Context) (string, error)
}

// Dedup guards each message ID against concurrent and repeated processing.
type Dedup interface {
	Claim(ctx context.Context, messageID string) (dedup.State, error)
	Complete(ctx context.Context, messageID string) error
	Release(ctx context.Context, messageID string) error
}

// RetryQueue holds listed messages until they are processed.
type RetryQueue interface {
	Enqueue(ctx context.Context, messageIDs []string, now time.Time) ([]queue.RetryEntry, error)
	Put(ctx context.Context, e queue.RetryEntry) error
	Remove(ctx context.Context, messageID string) error
	Pending(ctx context.Context) ([]queue.RetryEntry, error)
}

// Resolver maps a sender to a contact.
type Resolver interface {
	Resolve(ctx context.Context, sender string) (resolver.Resolution, error)
}

// Agent classifies a message and applies CRM actions.
type Agent interface {
	Run(ctx context.Context, in agent.Input) (models.AgentResult, error)
}

// Store is the part of the CRM store the processor writes.
type Store interface {
	LastOutboundEmail(ctx context.Context, contactID string) (*models.OutboundEmail, error)
	CreateInboxMessage(ctx context.Context, m models.ProcessedMessage) (bool, error)
}

// Notifier delivers admin notifications.
type Notifier interface {
	Notify(ctx context.Context, n models.AdminNotification) error
}

// LeaseRenewer keeps the watch lease alive.
type LeaseRenewer interface {
	RenewIfNeeded(ctx context.Context) (lease.Result, error)
}

// Summary counts the outcome of one notification.
type Summary struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// Config holds the processor's dependencies.
type Config struct {
	Mailbox          string
	Checkpoints      checkpoint.Store
	Gateway          Gateway
	Dedup            Dedup
	Retries          RetryQueue
	Resolver         Resolver
	Agent            Agent
	Store            Store
	Notifier         Notifier
	Lease            LeaseRenewer
	Metrics          *metrics.Metrics
	BodyLimit        int
	MaxRetryAttempts int
}

// Processor handles mailbox notifications.
type Processor struct {
	mailbox     string
	checkpoints checkpoint.Store
	gateway     Gateway
	dedup       Dedup
	retries     RetryQueue
	resolver    Resolver
	agent       Agent
	store       Store
	notifier    Notifier
	lease       LeaseRenewer
	metrics     *metrics.Metrics
	bodyLimit   int
	maxAttempts int
	policy      retry.Policy
	now         func() time.Time
}

// New creates a processor.
func New(cfg Config) *Processor {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 3000
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	return &Processor{
		mailbox:     models.NormalizeAddress(cfg.Mailbox),
		checkpoints: cfg.Checkpoints,
		gateway:     cfg.Gateway,
		dedup:       cfg.Dedup,
		retries:     cfg.Retries,
		resolver:    cfg.Resolver,
		agent:       cfg.Agent,
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		lease:       cfg.Lease,
		metrics:     cfg.Metrics,
		bodyLimit:   cfg.BodyLimit,
		maxAttempts: cfg.MaxRetryAttempts,
		policy:      retry.Default,
		now:         time.Now,
	}
}

// HandleNotification syncs the mailbox up to hinted and processes every
// new message. Per-message failures are counted, not returned. The lease
// renewal check always runs last and never fails the call.
func (p *Processor) HandleNotification(ctx context.Context, account, hinted string) (Summary, error) {
	var sum Summary
	if account != "" && models.NormalizeAddress(account) != p.mailbox {
		slog.Warn("ignoring notification for another mailbox", "account", account)
		return sum, ErrUnknownAccount
	}

	start := p.now()
	defer func() {
		p.renewLease(ctx)
		p.metrics.ObserveSync(p.now().Sub(start))
	}()

	p.drainRetries(ctx, &sum)
	err := p.syncRange(ctx, hinted, &sum)

	slog.Info("notification handled",
		"history_id", hinted,
		"found", sum.Found,
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"retried", sum.Retried,
	)
	return sum, err
}

// Poll runs a sync against the mailbox's current cursor. It catches
// messages whose push notifications were lost.
func (p *Processor) Poll(ctx context.Context) (Summary, error) {
	hint, err := p.gateway.CurrentCursor(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read current cursor: %w", err)
	}
	return p.HandleNotification(ctx, "", hint)
}

// RunPoll is a scheduler job wrapping Poll.
func (p *Processor) RunPoll(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil {
		slog.Error("safety-net poll failed", "error", err)
	}
}

func (p *Processor) syncRange(ctx context.Context, hinted string, sum *Summary) error {
	cur, err := checkpoint.LoadCursor(ctx, p.checkpoints)
	if err != nil {
		return err
	}

	if cur == nil {
		if hinted == "" {
			slog.Warn("no history cursor stored and none hinted, nothing to sync")
			return nil
		}
		// First run: no lower bound, so only record where to start.
		if err := checkpoint.SaveCursor(ctx, p.checkpoints, hinted, p.now()); err != nil {
			return err
		}
		slog.Info("first notification, history cursor initialised", "history_id", hinted)
		return nil
	}

	changes, err := p.gateway.ListChanges(ctx, cur.HistoryID)
	if errors.Is(err, gateway.ErrCursorExpired) {
		return p.resetExpiredCursor(ctx, cur.HistoryID, hinted)
	}
	if err != nil {
		return fmt.Errorf("list changes since %s: %w", cur.HistoryID, err)
	}

	ids := changes.MessageIDs
	sum.Found = len(ids)
	enqueuedAt := p.now().UTC()

	// Queue first so advancing the cursor can never lose a listed message.
	entries, err := p.retries.Enqueue(ctx, ids, enqueuedAt)
	if err != nil {
		return fmt.Errorf("queue listed messages: %w", err)
	}

	next := changes.NewCursor
	if next == "" {
		next = hinted
	}
	if next != "" && next != cur.HistoryID {
		if err := checkpoint.SaveCursor(ctx, p.checkpoints, next, p.now()); err != nil {
			slog.Error("failed to advance history cursor", "history_id", next, "error", err)
		}
	}

	// Stored entries carry the attempt count of a re-listed message.
	for _, e := range entries {
		p.handle(ctx, e, sum)
	}
	return nil
}

func (p *Processor) resetExpiredCursor(ctx context.Context, stale, hinted string) error {
	reset := hinted
	if reset == "" {
		var err error
		if reset, err = p.gateway.CurrentCursor(ctx); err != nil {
			return fmt.Errorf("read current cursor after expiry: %w", err)
		}
	}
	slog.Warn("history cursor expired, resetting without replay",
		"stale_history_id", stale,
		"history_id", reset,
	)
	return checkpoint.SaveCursor(ctx, p.checkpoints, reset, p.now())
}

func (p *Processor) drainRetries(ctx context.Context, sum *Summary) {
	pending, err := p.retries.Pending(ctx)
	if err != nil {
		slog.Error("failed to read retry queue", "error", err)
		return
	}
	p.metrics.SetRetryPending(len(pending))
	if len(pending) == 0 {
		return
	}

	slog.Info("draining retry queue", "count", len(pending))
	for _, e := range pending {
		sum.Retried++
		p.handle(ctx, e, sum)
	}
}

// handle processes one queued message and updates its queue entry.
func (p *Processor) handle(ctx context.Context, e queue.RetryEntry, sum *Summary) {
	res, err := p.processMessage(ctx, e.MessageID)
	p.metrics.Message(res.String())

	switch res {
	case outcomeProcessed, outcomeSkipped:
		if res == outcomeProcessed {
			sum.Processed++
		} else {
			sum.Skipped++
		}
		if err := p.retries.Remove(ctx, e.MessageID); err != nil {
			slog.Warn("failed to remove message from retry queue", "message_id", e.MessageID, "error", err)
		}

	case outcomeInFlight:
		// The claim holder owns the queue entry.
		sum.Skipped++

	case outcomeFailed:
		sum.Failed++
		e.Attempts++
		e.LastError = err.Error()
		if e.Attempts >= p.maxAttempts {
			slog.Error("message failed too often, dropping",
				"message_id", e.MessageID,
				"attempts", e.Attempts,
				"error", err,
			)
			p.metrics.Message("dropped")
			if err := p.retries.Remove(ctx, e.MessageID); err != nil {
				slog.Warn("failed to remove message from retry queue", "message_id", e.MessageID, "error", err)
			}
			return
		}
		slog.Error("message processing failed, will retry",
			"message_id", e.MessageID,
			"attempts", e.Attempts,
			"error", err,
		)
		if err := p.retries.Put(ctx, e); err != nil {
			slog.Error("failed to update retry queue", "message_id", e.MessageID, "error", err)
		}
	}
}

func (p *Processor) renewLease(ctx context.Context) {
	if p.lease == nil {
		return
	}
	if _, err := p.lease.RenewIfNeeded(ctx); err != nil {
		slog.Error("watch lease renewal failed", "error", err)
	}
}
