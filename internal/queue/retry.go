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

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryEntry is a listed message that has not been processed yet.
// Position is the message's index in the listing that enqueued it, so
// entries from one batch drain in history order.
type RetryEntry struct {
	MessageID  string    `json:"message_id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Position   int       `json:"position"`
	LastError  string    `json:"last_error,omitempty"`
}

// RetryQueue stores retry entries in a Redis hash keyed by message ID.
type RetryQueue struct {
	rdb *redis.Client
	key string
}

// NewRetryQueue creates a retry queue stored under key.
func NewRetryQueue(rdb *redis.Client, key string) *RetryQueue {
	return &RetryQueue{rdb: rdb, key: key}
}

// Put inserts or replaces the entry for e.MessageID.
func (q *RetryQueue) Put(ctx context.Context, e RetryEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal retry entry: %w", err)
	}
	if err := q.rdb.HSet(ctx, q.key, e.MessageID, raw).Err(); err != nil {
		return fmt.Errorf("redis HSET: %w", err)
	}
	return nil
}

// Enqueue adds an entry with zero attempts for every ID not already
// queued and returns the stored entry for each ID in list order. Existing
// entries keep their attempt count and position.
func (q *RetryQueue) Enqueue(ctx context.Context, messageIDs []string, now time.Time) ([]RetryEntry, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	fresh := newEntries(messageIDs, now)

	var stored *redis.SliceCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range fresh {
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal retry entry: %w", err)
			}
			pipe.HSetNX(ctx, q.key, e.MessageID, raw)
		}
		stored = pipe.HMGet(ctx, q.key, messageIDs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis HSETNX: %w", err)
	}
	return mergeStored(fresh, stored.Val()), nil
}

func newEntries(messageIDs []string, now time.Time) []RetryEntry {
	entries := make([]RetryEntry, len(messageIDs))
	for i, id := range messageIDs {
		entries[i] = RetryEntry{MessageID: id, EnqueuedAt: now.UTC(), Position: i}
	}
	return entries
}

// mergeStored replaces each fresh entry with the value Redis holds for it.
// Missing or corrupt values fall back to the fresh entry.
func mergeStored(fresh []RetryEntry, stored []interface{}) []RetryEntry {
	out := make([]RetryEntry, len(fresh))
	copy(out, fresh)
	for i := range out {
		if i >= len(stored) {
			break
		}
		raw, ok := stored[i].(string)
		if !ok {
			continue
		}
		var e RetryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		e.MessageID = out[i].MessageID
		out[i] = e
	}
	return out
}

// Remove deletes the entry for messageID.
func (q *RetryQueue) Remove(ctx context.Context, messageID string) error {
	if err := q.rdb.HDel(ctx, q.key, messageID).Err(); err != nil {
		return fmt.Errorf("redis HDEL: %w", err)
	}
	return nil
}

// Pending returns all entries, oldest listing first and in list order
// within a listing.
func (q *RetryQueue) Pending(ctx context.Context) ([]RetryEntry, error) {
	all, err := q.rdb.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL: %w", err)
	}
	return decodeEntries(all), nil
}

func decodeEntries(all map[string]string) []RetryEntry {
	entries := make([]RetryEntry, 0, len(all))
	for id, raw := range all {
		var e RetryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			e = RetryEntry{Attempts: 1}
		}
		e.MessageID = id
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.MessageID < b.MessageID
	})
	return entries
}
