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

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/agent"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/dedup"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/retry"
)

// Action log values for messages that never reach the agent.
const (
	ActionUnknownSender  = "No action — sender not a known contact"
	ActionAlreadyReplied = "No action — contact already marked as replied"
)

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeInFlight
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeProcessed:
		return "processed"
	case outcomeSkipped:
		return "skipped"
	case outcomeInFlight:
		return "in_flight"
	default:
		return "failed"
	}
}

// processMessage runs the pipeline for one message ID. A failed outcome
// always carries an error and leaves the message unclaimed.
func (p *Processor) processMessage(ctx context.Context, id string) (outcome, error) {
	state, err := p.dedup.Claim(ctx, id)
	if err != nil {
		return outcomeFailed, fmt.Errorf("claim message: %w", err)
	}
	switch state {
	case dedup.Done:
		slog.Debug("message already processed", "message_id", id)
		return outcomeSkipped, nil
	case dedup.InFlight:
		slog.Debug("message claimed by another invocation", "message_id", id)
		return outcomeInFlight, nil
	}

	res, err := p.processClaimed(ctx, id)
	if res == outcomeFailed {
		if relErr := p.dedup.Release(ctx, id); relErr != nil {
			slog.Warn("failed to release dedup claim", "message_id", id, "error", relErr)
		}
		return res, err
	}

	if err := p.dedup.Complete(ctx, id); err != nil {
		slog.Error("failed to record processed message", "message_id", id, "error", err)
	}
	return res, nil
}

func (p *Processor) processClaimed(ctx context.Context, id string) (outcome, error) {
	msg, err := p.gateway.GetMessage(ctx, id)
	if err != nil {
		return outcomeFailed, fmt.Errorf("fetch message: %w", err)
	}
	if msg == nil {
		return outcomeSkipped, nil
	}

	sender := models.NormalizeAddress(msg.From.Address)
	if sender == p.mailbox {
		slog.Debug("skipping message sent by the mailbox itself", "message_id", id)
		return outcomeSkipped, nil
	}

	resolution, err := p.resolver.Resolve(ctx, sender)
	if err != nil {
		return outcomeFailed, fmt.Errorf("resolve sender: %w", err)
	}

	rec := models.ProcessedMessage{
		ProviderMessageID: msg.ID,
		ThreadID:          msg.ThreadID,
		FromAddress:       sender,
		Subject:           msg.Subject,
		BodyExcerpt:       models.Excerpt(msg.BodyText, p.bodyLimit),
		ReceivedAt:        msg.ReceivedAt,
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = p.now().UTC()
	}

	mutated := false
	switch {
	case resolution.Contact == nil:
		rec.Classification = models.ClassUnrelated
		rec.Summary = fmt.Sprintf("Email from %s: %s", sender, msg.Subject)
		rec.ActionTaken = ActionUnknownSender

	case resolution.AlreadyReplied:
		rec.ContactID = &resolution.Contact.ID
		rec.Classification = models.ClassReply
		rec.Summary = fmt.Sprintf("Further email from %s: %s", sender, msg.Subject)
		rec.ActionTaken = ActionAlreadyReplied

	default:
		contact := resolution.Contact
		rec.ContactID = &contact.ID

		result, err := p.runAgent(ctx, contact, msg)
		if err != nil {
			var me *agent.ModelError
			if !errors.As(err, &me) || !me.Mutated {
				return outcomeFailed, fmt.Errorf("agent run: %w", err)
			}
			// Actions already ran; record what happened rather than retry.
			slog.Error("agent stopped after applying actions, recording partial result",
				"message_id", id,
				"contact_id", contact.ID,
				"error", err,
			)
			if result.Summary == "" {
				result.Summary = fmt.Sprintf("Agent stopped early: %v", err)
			}
		}
		mutated = result.ActionTaken != models.NoActionTaken
		p.metrics.ObserveAgent(result.Turns, result.Classification)

		rec.Classification = result.Classification
		rec.Summary = result.Summary
		rec.ActionTaken = result.ActionTaken
		rec.FollowUpDate = result.FollowUpDate
		rec.FunnelStage = result.FunnelStage
	}

	rec.ProcessedAt = p.now().UTC()
	err = retry.Do(ctx, p.policy, "write audit record", func(ctx context.Context) error {
		_, err := p.store.CreateInboxMessage(ctx, rec)
		return err
	})
	if err != nil {
		if !mutated {
			return outcomeFailed, err
		}
		// Retrying would repeat CRM actions; keep the record in the log.
		slog.Error("audit record lost after CRM actions were applied",
			"message_id", id,
			"classification", rec.Classification,
			"action_taken", rec.ActionTaken,
			"error", err,
		)
	}

	p.notify(ctx, rec)
	return outcomeProcessed, nil
}

func (p *Processor) runAgent(ctx context.Context, contact *models.Contact, msg *models.Message) (models.AgentResult, error) {
	var last *models.OutboundEmail
	err := retry.Do(ctx, p.policy, "last outbound email", func(ctx context.Context) error {
		var err error
		last, err = p.store.LastOutboundEmail(ctx, contact.ID)
		return err
	})
	if err != nil {
		slog.Warn("could not load last outbound email, continuing without it",
			"contact_id", contact.ID,
			"error", err,
		)
	}

	return p.agent.Run(ctx, agent.Input{Contact: contact, Message: msg, LastOutbound: last})
}

func (p *Processor) notify(ctx context.Context, rec models.ProcessedMessage) {
	if p.notifier == nil {
		return
	}
	n := models.AdminNotification{
		MessageID:      rec.ProviderMessageID,
		From:           rec.FromAddress,
		Subject:        rec.Subject,
		Classification: rec.Classification,
		Summary:        rec.Summary,
		ActionTaken:    rec.ActionTaken,
	}
	if rec.ContactID != nil {
		n.ContactID = *rec.ContactID
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		slog.Warn("admin notification failed", "message_id", rec.ProviderMessageID, "error", err)
	}
}
