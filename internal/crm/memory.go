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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

// MemoryStore is an in-process CRM store used by tests and local runs.
type MemoryStore struct {
	mu          sync.Mutex
	contacts    map[string]*models.Contact
	stages      []models.FunnelStage
	assignments map[string]string
	sends       []models.OutboundEmail
	inbox       []models.ProcessedMessage
	failures    map[string]error
	calls       map[string]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:    make(map[string]*models.Contact),
		assignments: make(map[string]string),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

// AddContact seeds a contact.
func (m *MemoryStore) AddContact(c models.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	m.contacts[c.ID] = &cp
}

// AddStage seeds a funnel stage.
func (m *MemoryStore) AddStage(st models.FunnelStage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, st)
}

// AddSend seeds an outbound email.
func (m *MemoryStore) AddSend(e models.OutboundEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, e)
}

// FailOn makes every subsequent call to the named method return err.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// Calls returns how many times the named method was invoked.
func (m *MemoryStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Contact returns a copy of the stored contact.
func (m *MemoryStore) Contact(id string) (models.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return models.Contact{}, false
	}
	return *c, true
}

// StageOf returns the name of the contact's current stage.
func (m *MemoryStore) StageOf(contactID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.assignments[contactID]
	for _, st := range m.stages {
		if st.ID == id {
			return st.Name
		}
	}
	return ""
}

// Sends returns the outbound emails to the contact.
func (m *MemoryStore) Sends(contactID string) []models.OutboundEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboundEmail
	for _, e := range m.sends {
		if e.ContactID == contactID {
			out = append(out, e)
		}
	}
	return out
}

// InboxMessages returns every audit record written.
func (m *MemoryStore) InboxMessages() []models.ProcessedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ProcessedMessage(nil), m.inbox...)
}

// enter records the call and returns the injected failure, if any.
// Callers hold m.mu.
func (m *MemoryStore) enter(method string) error {
	m.calls[method]++
	return m.failures[method]
}

func (m *MemoryStore) FindContactByEmail(_ context.Context, email string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindContactByEmail"); err != nil {
		return nil, err
	}
	want := models.NormalizeAddress(email)
	ids := make([]string, 0, len(m.contacts))
	for id := range m.contacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if models.NormalizeAddress(m.contacts[id].Email) == want {
			cp := *m.contacts[id]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetContact(_ context.Context, id string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetContact"); err != nil {
		return nil, err
	}
	c, ok := m.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) HasReplied(_ context.Context, contactID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("HasReplied"); err != nil {
		return false, err
	}
	for _, e := range m.sends {
		if e.ContactID == contactID && e.Replied {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) LastOutboundEmail(_ context.Context, contactID string) (*models.OutboundEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LastOutboundEmail"); err != nil {
		return nil, err
	}
	var last *models.OutboundEmail
	for i := range m.sends {
		e := m.sends[i]
		if e.ContactID != contactID {
			continue
		}
		if last == nil || e.SentAt.After(last.SentAt) {
			last = &e
		}
	}
	return last, nil
}

func (m *MemoryStore) ListStages(_ context.Context, campaignID string) ([]models.FunnelStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListStages"); err != nil {
		return nil, err
	}
	var out []models.FunnelStage
	for _, st := range m.stages {
		if st.CampaignID == campaignID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *MemoryStore) CreateStage(_ context.Context, st models.FunnelStage) (models.FunnelStage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateStage"); err != nil {
		return models.FunnelStage{}, false, err
	}
	for _, existing := range m.stages {
		if existing.CampaignID == st.CampaignID && strings.EqualFold(existing.Name, st.Name) {
			return existing, false, nil
		}
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	m.stages = append(m.stages, st)
	return st, true, nil
}

func (m *MemoryStore) AssignStage(_ context.Context, contactID, stageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AssignStage"); err != nil {
		return err
	}
	m.assignments[contactID] = stageID
	return nil
}

func (m *MemoryStore) SetFollowUp(_ context.Context, contactID string, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetFollowUp"); err != nil {
		return err
	}
	c, ok := m.contacts[contactID]
	if !ok {
		return fmt.Errorf("set follow-up: contact %s: %w", contactID, ErrNotFound)
	}
	d := date.UTC()
	c.FollowUpDate = &d
	c.FollowUpCancelled = false
	return nil
}

func (m *MemoryStore) CancelFollowUp(_ context.Context, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CancelFollowUp"); err != nil {
		return err
	}
	c, ok := m.contacts[contactID]
	if !ok {
		return fmt.Errorf("cancel follow-up: contact %s: %w", contactID, ErrNotFound)
	}
	c.FollowUpCancelled = true
	return nil
}

func (m *MemoryStore) MarkSendsReplied(_ context.Context, contactID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkSendsReplied"); err != nil {
		return 0, err
	}
	var n int64
	for i := range m.sends {
		if m.sends[i].ContactID == contactID && !m.sends[i].Replied {
			m.sends[i].Replied = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateInboxMessage(_ context.Context, rec models.ProcessedMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateInboxMessage"); err != nil {
		return false, err
	}
	for _, existing := range m.inbox {
		if existing.ProviderMessageID == rec.ProviderMessageID {
			return false, nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.inbox = append(m.inbox, rec)
	return true, nil
}
