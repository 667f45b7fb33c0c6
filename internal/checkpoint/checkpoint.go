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

// Package checkpoint persists the mailbox history cursor and the watch
// lease as opaque key/value settings. Both values are process-wide and
// overwritten on every change.
package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// Setting keys.
const (
	KeyHistoryCursor = "gmail_history_id"
	KeyWatchLease    = "gmail_watch"
)

// Store reads and writes opaque JSON settings. Get reports false when the
// key has never been written.
type Store interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Put(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Cursor is the last processed history position.
type Cursor struct {
	HistoryID string    `json:"historyId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Lease is the current watch lease. Renewal replaces it entirely.
type Lease struct {
	ExpiresAtMs int64     `json:"expiration"`
	StartedAt   time.Time `json:"startedAt"`
	HistoryID   string    `json:"historyId,omitempty"`
}

// ExpiresAt converts the epoch-millisecond expiry to a time.
func (l Lease) ExpiresAt() time.Time {
	return time.UnixMilli(l.ExpiresAtMs).UTC()
}

// LoadCursor returns the stored cursor, or nil on first run.
func LoadCursor(ctx context.Context, s Store) (*Cursor, error) {
	var c Cursor
	ok, err := s.Get(ctx, KeyHistoryCursor, &c)
	if err != nil {
		return nil, fmt.Errorf("load history cursor: %w", err)
	}
	if !ok || c.HistoryID == "" {
		return nil, nil
	}
	return &c, nil
}

// SaveCursor overwrites the stored cursor.
func SaveCursor(ctx context.Context, s Store, historyID string, now time.Time) error {
	c := Cursor{HistoryID: historyID, UpdatedAt: now.UTC()}
	if err := s.Put(ctx, KeyHistoryCursor, c); err != nil {
		return fmt.Errorf("save history cursor: %w", err)
	}
	return nil
}

// LoadLease returns the stored lease, or nil if none was recorded.
func LoadLease(ctx context.Context, s Store) (*Lease, error) {
	var l Lease
	ok, err := s.Get(ctx, KeyWatchLease, &l)
	if err != nil {
		return nil, fmt.Errorf("load watch lease: %w", err)
	}
	if !ok || l.ExpiresAtMs == 0 {
		return nil, nil
	}
	return &l, nil
}

// SaveLease replaces the stored lease.
func SaveLease(ctx context.Context, s Store, l Lease) error {
	if err := s.Put(ctx, KeyWatchLease, l); err != nil {
		return fmt.Errorf("save watch lease: %w", err)
	}
	return nil
}

// ClearLease removes the stored lease.
func ClearLease(ctx context.Context, s Store) error {
	if err := s.Delete(ctx, KeyWatchLease); err != nil {
		return fmt.Errorf("clear watch lease: %w", err)
	}
	return nil
}
