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

// Package actions implements the CRM mutations the agent may perform.
// Every executor is idempotent: repeating a call leaves the CRM in the same
// state.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/retry"
)

// StageReplied is the stage a contact moves to once they have replied.
const StageReplied = "Replied"

// DefaultFollowUpDelay replaces follow-up dates that fall in the past.
const DefaultFollowUpDelay = 3 * 24 * time.Hour

// DefaultStageColor is used for auto-created stages with no known color.
const DefaultStageColor = "#9ca3af"

var stageColors = map[string]string{
	"replied":        "#10b981",
	"out of office":  "#f59e0b",
	"bounced":        "#ef4444",
	"interested":     "#3b82f6",
	"not interested": "#6b7280",
}

// StageColor returns the color for an auto-created stage.
func StageColor(name string) string {
	if c, ok := stageColors[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c
	}
	return DefaultStageColor
}

// Store is the part of the CRM store the executors mutate.
type Store interface {
	ListStages(ctx context.Context, campaignID string) ([]models.FunnelStage, error)
	CreateStage(ctx context.Context, st models.FunnelStage) (models.FunnelStage, bool, error)
	AssignStage(ctx context.Context, contactID, stageID string) error
	SetFollowUp(ctx context.Context, contactID string, date time.Time) error
	CancelFollowUp(ctx context.Context, contactID string) error
	MarkSendsReplied(ctx context.Context, contactID string) (int64, error)
}

// Executor runs CRM mutations with a timeout and bounded retry on each call.
type Executor struct {
	store  Store
	policy retry.Policy
	now    func() time.Time
}

// New creates an executor.
func New(store Store) *Executor {
	return &Executor{store: store, policy: retry.Default, now: time.Now}
}

// MoveToStage assigns the contact to the named stage in its campaign,
// creating the stage if the campaign has none with that name.
func (e *Executor) MoveToStage(ctx context.Context, contact *models.Contact, name string) (models.FunnelStage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.FunnelStage{}, fmt.Errorf("stage name is empty")
	}

	var stages []models.FunnelStage
	err := retry.Do(ctx, e.policy, "list stages", func(ctx context.Context) error {
		var err error
		stages, err = e.store.ListStages(ctx, contact.CampaignID)
		return err
	})
	if err != nil {
		return models.FunnelStage{}, err
	}

	stage, found := findStage(stages, name)
	if !found {
		want := models.FunnelStage{
			CampaignID: contact.CampaignID,
			Name:       name,
			Order:      nextOrder(stages),
			Color:      StageColor(name),
		}
		var created bool
		err := retry.Do(ctx, e.policy, "create stage", func(ctx context.Context) error {
			var err error
			stage, created, err = e.store.CreateStage(ctx, want)
			return err
		})
		if err != nil {
			return models.FunnelStage{}, err
		}
		if created {
			slog.Info("funnel stage created",
				"campaign_id", contact.CampaignID,
				"stage", stage.Name,
				"order", stage.Order,
			)
		}
	}

	err = retry.Do(ctx, e.policy, "assign stage", func(ctx context.Context) error {
		return e.store.AssignStage(ctx, contact.ID, stage.ID)
	})
	if err != nil {
		return models.FunnelStage{}, err
	}
	return stage, nil
}

func findStage(stages []models.FunnelStage, name string) (models.FunnelStage, bool) {
	for _, st := range stages {
		if strings.EqualFold(strings.TrimSpace(st.Name), name) {
			return st, true
		}
	}
	return models.FunnelStage{}, false
}

func nextOrder(stages []models.FunnelStage) int {
	highest := 0
	for _, st := range stages {
		if st.Order > highest {
			highest = st.Order
		}
	}
	return highest + 1
}

// ScheduleFollowUp stores a follow-up date for the contact. A date before
// today (UTC, day granularity) is replaced with now plus three days; the
// second return value reports whether that correction happened.
func (e *Executor) ScheduleFollowUp(ctx context.Context, contactID string, requested time.Time) (time.Time, bool, error) {
	now := e.now().UTC()
	date := requested.UTC()
	corrected := false
	if dayOf(date).Before(dayOf(now)) {
		date = now.Add(DefaultFollowUpDelay)
		corrected = true
	}

	err := retry.Do(ctx, e.policy, "set follow-up", func(ctx context.Context) error {
		return e.store.SetFollowUp(ctx, contactID, date)
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return date, corrected, nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CancelFollowUp cancels the contact's pending follow-up.
func (e *Executor) CancelFollowUp(ctx context.Context, contactID string) error {
	return retry.Do(ctx, e.policy, "cancel follow-up", func(ctx context.Context) error {
		return e.store.CancelFollowUp(ctx, contactID)
	})
}

// RepliedOutcome describes what MarkReplied changed.
type RepliedOutcome struct {
	SendsMarked int64
	Stage       models.FunnelStage
}

// MarkReplied cancels the follow-up, flags every outbound send as replied
// and moves the contact to the Replied stage, in that order. It stops at
// the first failing step.
func (e *Executor) MarkReplied(ctx context.Context, contact *models.Contact) (RepliedOutcome, error) {
	var out RepliedOutcome

	if err := e.CancelFollowUp(ctx, contact.ID); err != nil {
		return out, err
	}

	err := retry.Do(ctx, e.policy, "mark sends replied", func(ctx context.Context) error {
		var err error
		out.SendsMarked, err = e.store.MarkSendsReplied(ctx, contact.ID)
		return err
	})
	if err != nil {
		return out, err
	}

	stage, err := e.MoveToStage(ctx, contact, StageReplied)
	if err != nil {
		return out, err
	}
	out.Stage = stage
	return out, nil
}
