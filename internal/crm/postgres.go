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
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

// PGStore implements the CRM store on Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a CRM store and ensures the tables exist.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	s := &PGStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure crm schema: %w", err)
	}
	slog.Info("crm store initialised")
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS campaigns (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS contacts (
			id                  TEXT PRIMARY KEY,
			email               TEXT NOT NULL,
			name                TEXT NOT NULL DEFAULT '',
			company             TEXT NOT NULL DEFAULT '',
			campaign_id         TEXT NOT NULL REFERENCES campaigns(id),
			follow_up_date      TIMESTAMPTZ,
			follow_up_cancelled BOOLEAN NOT NULL DEFAULT FALSE,
			unsubscribed        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts (lower(email));

		CREATE TABLE IF NOT EXISTS funnel_stages (
			id          TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id),
			name        TEXT NOT NULL,
			stage_order INTEGER NOT NULL,
			color       TEXT NOT NULL,
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_funnel_stages_name
			ON funnel_stages (campaign_id, lower(name));

		CREATE TABLE IF NOT EXISTS contact_stage_assignments (
			contact_id  TEXT PRIMARY KEY REFERENCES contacts(id),
			stage_id    TEXT NOT NULL REFERENCES funnel_stages(id),
			assigned_at TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS email_sends (
			id         TEXT PRIMARY KEY,
			contact_id TEXT NOT NULL REFERENCES contacts(id),
			subject    TEXT NOT NULL DEFAULT '',
			body       TEXT NOT NULL DEFAULT '',
			sent_at    TIMESTAMPTZ NOT NULL,
			replied    BOOLEAN NOT NULL DEFAULT FALSE,
			replied_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_email_sends_contact ON email_sends (contact_id, sent_at DESC);

		CREATE TABLE IF NOT EXISTS inbox_messages (
			id                  TEXT PRIMARY KEY,
			provider_message_id TEXT NOT NULL UNIQUE,
			contact_id          TEXT REFERENCES contacts(id),
			thread_id           TEXT NOT NULL DEFAULT '',
			from_address        TEXT NOT NULL,
			subject             TEXT NOT NULL DEFAULT '',
			body_excerpt        TEXT NOT NULL DEFAULT '',
			classification      TEXT NOT NULL,
			summary             TEXT NOT NULL DEFAULT '',
			action_taken        TEXT NOT NULL DEFAULT '',
			follow_up_date      TIMESTAMPTZ,
			funnel_stage        TEXT NOT NULL DEFAULT '',
			processed_at        TIMESTAMPTZ NOT NULL,
			received_at         TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

const contactColumns = `
	c.id, c.email, c.name, c.company, c.campaign_id, COALESCE(cp.name, ''),
	c.follow_up_date, c.follow_up_cancelled, c.unsubscribed`

func scanContact(row pgx.Row) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.Company, &c.CampaignID, &c.CampaignName,
		&c.FollowUpDate, &c.FollowUpCancelled, &c.Unsubscribed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindContactByEmail returns the contact with the given address, or nil.
// When several campaigns hold the same address the newest contact wins.
func (s *PGStore) FindContactByEmail(ctx context.Context, email string) (*models.Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM contacts c
		LEFT JOIN campaigns cp ON cp.id = c.campaign_id
		WHERE lower(c.email) = lower($1)
		ORDER BY c.created_at DESC
		LIMIT 1
	`, models.NormalizeAddress(email)))
	if err != nil {
		return nil, fmt.Errorf("find contact by email: %w", err)
	}
	return c, nil
}

// GetContact returns the contact by ID, or nil.
func (s *PGStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM contacts c
		LEFT JOIN campaigns cp ON cp.id = c.campaign_id
		WHERE c.id = $1
	`, id))
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// HasReplied reports whether any outbound send to the contact is flagged
// replied.
func (s *PGStore) HasReplied(ctx context.Context, contactID string) (bool, error) {
	var replied bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM email_sends WHERE contact_id = $1 AND replied)
	`, contactID).Scan(&replied)
	if err != nil {
		return false, fmt.Errorf("check replied: %w", err)
	}
	return replied, nil
}

// LastOutboundEmail returns the most recent send to the contact, or nil.
func (s *PGStore) LastOutboundEmail(ctx context.Context, contactID string) (*models.OutboundEmail, error) {
	var e models.OutboundEmail
	err := s.pool.QueryRow(ctx, `
		SELECT id, contact_id, subject, body, sent_at, replied
		FROM email_sends
		WHERE contact_id = $1
		ORDER BY sent_at DESC
		LIMIT 1
	`, contactID).Scan(&e.ID, &e.ContactID, &e.Subject, &e.Body, &e.SentAt, &e.Replied)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last outbound email: %w", err)
	}
	return &e, nil
}

// ListStages returns the campaign's stages in order.
func (s *PGStore) ListStages(ctx context.Context, campaignID string) ([]models.FunnelStage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, name, stage_order, color
		FROM funnel_stages
		WHERE campaign_id = $1
		ORDER BY stage_order
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []models.FunnelStage
	for rows.Next() {
		var st models.FunnelStage
		if err := rows.Scan(&st.ID, &st.CampaignID, &st.Name, &st.Order, &st.Color); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// CreateStage inserts a stage. If a stage with the same name (any casing)
// already exists in the campaign, that stage is returned with created=false.
func (s *PGStore) CreateStage(ctx context.Context, st models.FunnelStage) (models.FunnelStage, bool, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO funnel_stages (id, campaign_id, name, stage_order, color)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (campaign_id, lower(name)) DO NOTHING
	`, st.ID, st.CampaignID, st.Name, st.Order, st.Color)
	if err != nil {
		return models.FunnelStage{}, false, fmt.Errorf("create stage: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return st, true, nil
	}

	var existing models.FunnelStage
	err = s.pool.QueryRow(ctx, `
		SELECT id, campaign_id, name, stage_order, color
		FROM funnel_stages
		WHERE campaign_id = $1 AND lower(name) = lower($2)
	`, st.CampaignID, st.Name).Scan(&existing.ID, &existing.CampaignID, &existing.Name, &existing.Order, &existing.Color)
	if err != nil {
		return models.FunnelStage{}, false, fmt.Errorf("reselect stage after conflict: %w", err)
	}
	return existing, false, nil
}

// AssignStage replaces the contact's current stage.
func (s *PGStore) AssignStage(ctx context.Context, contactID, stageID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contact_stage_assignments (contact_id, stage_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (contact_id) DO UPDATE SET
			stage_id    = EXCLUDED.stage_id,
			assigned_at = EXCLUDED.assigned_at
	`, contactID, stageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("assign stage: %w", err)
	}
	return nil
}

// SetFollowUp stores the follow-up date and clears any cancellation.
func (s *PGStore) SetFollowUp(ctx context.Context, contactID string, date time.Time) error {
	return s.updateContact(ctx, "set follow-up", `
		UPDATE contacts SET follow_up_date = $2, follow_up_cancelled = FALSE WHERE id = $1
	`, contactID, date.UTC())
}

// CancelFollowUp flags the contact's pending follow-up as cancelled.
func (s *PGStore) CancelFollowUp(ctx context.Context, contactID string) error {
	return s.updateContact(ctx, "cancel follow-up", `
		UPDATE contacts SET follow_up_cancelled = TRUE WHERE id = $1
	`, contactID)
}

func (s *PGStore) updateContact(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: contact %v: %w", op, args[0], ErrNotFound)
	}
	return nil
}

// MarkSendsReplied flags every outbound send to the contact as replied and
// returns how many were changed.
func (s *PGStore) MarkSendsReplied(ctx context.Context, contactID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_sends SET replied = TRUE, replied_at = $2
		WHERE contact_id = $1 AND NOT replied
	`, contactID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark sends replied: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateInboxMessage writes the audit record. It returns false if a record
// for the provider message ID already exists.
func (s *PGStore) CreateInboxMessage(ctx context.Context, m models.ProcessedMessage) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_messages (
			id, provider_message_id, contact_id, thread_id, from_address, subject,
			body_excerpt, classification, summary, action_taken, follow_up_date,
			funnel_stage, processed_at, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (provider_message_id) DO NOTHING
	`, m.ID, m.ProviderMessageID, m.ContactID, m.ThreadID, m.FromAddress, m.Subject,
		m.BodyExcerpt, m.Classification, m.Summary, m.ActionTaken, m.FollowUpDate,
		m.FunnelStage, m.ProcessedAt, m.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("create inbox message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping checks database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
