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

package crm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

func TestMemoryStore_FindContactByEmailNormalizes(t *testing.T) {
	s := NewMemoryStore()
	s.AddContact(models.Contact{ID: "c1", Email: "Jane@Example.com", CampaignID: "camp"})

	got, err := s.FindContactByEmail(context.Background(), "  jane@example.COM ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != "c1" {
		t.Fatalf("got %+v, want contact c1", got)
	}

	missing, err := s.FindContactByEmail(context.Background(), "bob@x.com")
	if err != nil || missing != nil {
		t.Errorf("FindContactByEmail(unknown) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryStore_CreateStageCaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, created, err := s.CreateStage(ctx, models.FunnelStage{CampaignID: "camp", Name: "Replied", Order: 1})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := s.CreateStage(ctx, models.FunnelStage{CampaignID: "camp", Name: "REPLIED", Order: 2})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("second create should reuse existing stage")
	}
	if second.ID != first.ID {
		t.Errorf("second.ID = %q, want %q", second.ID, first.ID)
	}

	stages, _ := s.ListStages(ctx, "camp")
	if len(stages) != 1 {
		t.Errorf("len(stages) = %d, want 1", len(stages))
	}
}

func TestMemoryStore_FollowUpLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.AddContact(models.Contact{ID: "c1", Email: "a@b.com", CampaignID: "camp", FollowUpCancelled: true})

	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SetFollowUp(ctx, "c1", date); err != nil {
		t.Fatalf("SetFollowUp: %v", err)
	}
	c, _ := s.Contact("c1")
	if c.FollowUpDate == nil || !c.FollowUpDate.Equal(date) {
		t.Errorf("FollowUpDate = %v, want %v", c.FollowUpDate, date)
	}
	if c.FollowUpCancelled {
		t.Error("SetFollowUp should clear the cancellation flag")
	}

	if err := s.CancelFollowUp(ctx, "c1"); err != nil {
		t.Fatalf("CancelFollowUp: %v", err)
	}
	c, _ = s.Contact("c1")
	if !c.FollowUpCancelled {
		t.Error("expected follow-up to be cancelled")
	}

	if err := s.CancelFollowUp(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CancelFollowUp(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_MarkSendsRepliedAndHasReplied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	s.AddSend(models.OutboundEmail{ID: "e1", ContactID: "c1", SentAt: now.Add(-48 * time.Hour)})
	s.AddSend(models.OutboundEmail{ID: "e2", ContactID: "c1", SentAt: now.Add(-24 * time.Hour), Subject: "latest"})
	s.AddSend(models.OutboundEmail{ID: "e3", ContactID: "c2", SentAt: now})

	last, err := s.LastOutboundEmail(ctx, "c1")
	if err != nil || last == nil || last.Subject != "latest" {
		t.Fatalf("LastOutboundEmail = %+v, %v", last, err)
	}

	replied, _ := s.HasReplied(ctx, "c1")
	if replied {
		t.Fatal("contact should not be replied yet")
	}

	n, err := s.MarkSendsReplied(ctx, "c1")
	if err != nil {
		t.Fatalf("MarkSendsReplied: %v", err)
	}
	if n != 2 {
		t.Errorf("marked = %d, want 2", n)
	}
	if replied, _ := s.HasReplied(ctx, "c1"); !replied {
		t.Error("expected contact to be replied")
	}
	if replied, _ := s.HasReplied(ctx, "c2"); replied {
		t.Error("other contacts must be untouched")
	}
}

func TestMemoryStore_CreateInboxMessageOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := models.ProcessedMessage{ProviderMessageID: "m1", Classification: models.ClassReply}

	if ok, err := s.CreateInboxMessage(ctx, rec); err != nil || !ok {
		t.Fatalf("first insert = %v, %v", ok, err)
	}
	if ok, err := s.CreateInboxMessage(ctx, rec); err != nil || ok {
		t.Fatalf("second insert = %v, %v; want false, nil", ok, err)
	}
	if got := len(s.InboxMessages()); got != 1 {
		t.Errorf("records = %d, want 1", got)
	}
}

func TestMemoryStore_FailOn(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	s.FailOn("AssignStage", boom)

	if err := s.AssignStage(context.Background(), "c1", "s1"); !errors.Is(err, boom) {
		t.Errorf("AssignStage error = %v, want boom", err)
	}
	if got := s.Calls("AssignStage"); got != 1 {
		t.Errorf("Calls = %d, want 1", got)
	}
}
