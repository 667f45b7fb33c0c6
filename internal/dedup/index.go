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
	"errors"
	"log/slog"
)

// claimer is the Redis side of the index.
type claimer interface {
	Claim(ctx context.Context, messageID string) (State, error)
	MarkDone(ctx context.Context, messageID string) error
	Release(ctx context.Context, messageID string) error
}

// recorder is the durable side of the index.
type recorder interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Record(ctx context.Context, messageID string) (bool, error)
}

// Index combines the Redis claim with the durable ledger.
type Index struct {
	filter claimer
	ledger recorder
}

// NewIndex creates a dedup index.
func NewIndex(filter *Filter, ledger *Ledger) *Index {
	return &Index{filter: filter, ledger: ledger}
}

// Claim returns Claimed when the caller now exclusively owns processing of
// messageID, Done when the ledger already holds it, and InFlight when a
// concurrent invocation holds the claim.
func (x *Index) Claim(ctx context.Context, messageID string) (State, error) {
	seen, err := x.ledger.Seen(ctx, messageID)
	if err != nil {
		return InFlight, err
	}
	if seen {
		return Done, nil
	}
	return x.filter.Claim(ctx, messageID)
}

// Complete records messageID as processed. The Redis done marker is
// written even when the ledger write fails, so a re-listed message is
// still skipped while the marker lives.
func (x *Index) Complete(ctx context.Context, messageID string) error {
	_, ledgerErr := x.ledger.Record(ctx, messageID)
	if err := x.filter.MarkDone(ctx, messageID); err != nil {
		if ledgerErr != nil {
			return errors.Join(ledgerErr, err)
		}
		slog.Warn("dedup marker update failed", "message_id", messageID, "error", err)
	}
	return ledgerErr
}

// Release gives up a claim after a failed attempt.
func (x *Index) Release(ctx context.Context, messageID string) error {
	return x.filter.Release(ctx, messageID)
}
