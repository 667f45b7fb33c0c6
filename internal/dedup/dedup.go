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

// Package dedup provides the processed-message index. A message is first
// claimed with a Redis SET NX (the concurrency guard between overlapping
// notifications), then recorded durably in Postgres once processing ends.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the result of a claim attempt.
type State int

const (
	// Claimed means the caller now owns processing of the message.
	Claimed State = iota
	// Done means the message was already processed.
	Done
	// InFlight means another invocation holds the claim.
	InFlight
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Done:
		return "done"
	case InFlight:
		return "in_flight"
	}
	return "unknown"
}

const (
	// DefaultClaimTTL bounds how long an in-flight claim survives a crash.
	DefaultClaimTTL = 15 * time.Minute

	// DefaultSeenTTL is how long a completed message stays in the Redis
	// fast path. The Postgres ledger remains the source of truth.
	DefaultSeenTTL = 7 * 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "inbox:seen:"

	markerProcessing = "processing"
	markerDone       = "done"
)

// Filter tracks in-flight and recently completed message IDs in Redis.
type Filter struct {
	rdb      *redis.Client
	claimTTL time.Duration
	seenTTL  time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb:      rdb,
		claimTTL: DefaultClaimTTL,
		seenTTL:  DefaultSeenTTL,
	}
}

func key(messageID string) string {
	return fmt.Sprintf("%s%s", keyPrefix, messageID)
}

// Claim takes the in-flight marker with SETNX. When the key already
// exists its value tells a finished message from one still in flight.
func (f *Filter) Claim(ctx context.Context, messageID string) (State, error) {
	set, err := f.rdb.SetNX(ctx, key(messageID), markerProcessing, f.claimTTL).Result()
	if err != nil {
		return InFlight, fmt.Errorf("dedup SETNX: %w", err)
	}
	if set {
		return Claimed, nil
	}

	val, err := f.rdb.Get(ctx, key(messageID)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; the next attempt can claim it.
		return InFlight, nil
	}
	if err != nil {
		return InFlight, fmt.Errorf("dedup GET: %w", err)
	}
	return stateOf(val), nil
}

func stateOf(marker string) State {
	if marker == markerDone {
		return Done
	}
	return InFlight
}

// MarkDone converts a claim into a long-lived completed marker.
func (f *Filter) MarkDone(ctx context.Context, messageID string) error {
	if err := f.rdb.Set(ctx, key(messageID), markerDone, f.seenTTL).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}
	return nil
}

// Release drops a claim so the message can be retried.
func (f *Filter) Release(ctx context.Context, messageID string) error {
	if err := f.rdb.Del(ctx, key(messageID)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
