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

package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/crm"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/retry"
)

func TestResolve(t *testing.T) {
	store := crm.NewMemoryStore()
	store.AddContact(models.Contact{ID: "c1", Email: "jane@example.com", CampaignID: "camp"})
	store.AddContact(models.Contact{ID: "c2", Email: "sam@example.com", CampaignID: "camp"})
	store.AddSend(models.OutboundEmail{ID: "e1", ContactID: "c2", Replied: true})

	r := New(store)

	tests := []struct {
		name        string
		sender      string
		wantContact string
		wantReplied bool
	}{
		{"unknown sender", "bob@x.com", "", false},
		{"known contact", "Jane <JANE@example.com>", "c1", false},
		{"already replied", "sam@example.com", "c2", true},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.sender)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			gotID := ""
			if got.Contact != nil {
				gotID = got.Contact.ID
			}
			if gotID != tt.wantContact {
				t.Errorf("contact = %q, want %q", gotID, tt.wantContact)
			}
			if got.AlreadyReplied != tt.wantReplied {
				t.Errorf("AlreadyReplied = %v, want %v", got.AlreadyReplied, tt.wantReplied)
			}
		})
	}
}

func TestResolve_StoreErrorIsReturned(t *testing.T) {
	store := crm.NewMemoryStore()
	store.FailOn("FindContactByEmail", errors.New("db down"))

	r := New(store)
	r.policy = retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond}

	if _, err := r.Resolve(context.Background(), "a@b.com"); err == nil {
		t.Fatal("expected error")
	}
	if got := store.Calls("FindContactByEmail"); got != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", got)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(`"Doe, Jane" <Jane@Example.COM>`); got != "jane@example.com" {
		t.Errorf("Normalize = %q", got)
	}
	if got := Normalize(" plain@EXAMPLE.com "); got != "plain@example.com" {
		t.Errorf("Normalize = %q", got)
	}
}
