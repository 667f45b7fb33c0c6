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

package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the append-only Postgres record of processed message IDs.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates the ledger and ensures its table exists.
func NewLedger(ctx context.Context, pool *pgxpool.Pool) (*Ledger, error) {
	l := &Ledger{pool: pool}
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS processed_message_ids (
			message_id   TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure dedup ledger schema: %w", err)
	}
	slog.Info("dedup ledger initialised")
	return l, nil
}

// Seen reports whether the message ID was already recorded.
func (l *Ledger) Seen(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_message_ids WHERE message_id = $1)
	`, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedup ledger lookup: %w", err)
	}
	return exists, nil
}

// Record inserts the message ID if absent. It returns false when the ID
// was already present.
func (l *Ledger) Record(ctx context.Context, messageID string) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO processed_message_ids (message_id)
		VALUES ($1)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID)
	if err != nil {
		return false, fmt.Errorf("dedup ledger insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
