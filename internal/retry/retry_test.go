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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fast = Policy{
	Attempts:   3,
	Initial:    time.Millisecond,
	Max:        2 * time.Millisecond,
	Multiplier: 2,
}

// TestDo_RetriesUntilSuccess verifies transient failures are retried.
func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestDo_StopsAfterAttempts verifies the attempt bound and error wrapping.
func TestDo_StopsAfterAttempts(t *testing.T) {
	sentinel := errors.New("boom")
	calls := 0
	err := Do(context.Background(), fast, "fetch", func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if err.Error() != "fetch: boom" {
		t.Errorf("err = %q, want %q", err.Error(), "fetch: boom")
	}
}

// TestDo_PermanentNotRetried verifies Permanent short-circuits retries.
func TestDo_PermanentNotRetried(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fast, "op", func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestDo_RetryableClassifier verifies the custom classifier is honoured.
func TestDo_RetryableClassifier(t *testing.T) {
	p := fast
	p.Retryable = func(error) bool { return false }
	calls := 0
	_ = Do(context.Background(), p, "op", func(context.Context) error {
		calls++
		return errors.New("no")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestDo_AppliesTimeout verifies each attempt gets a deadline.
func TestDo_AppliesTimeout(t *testing.T) {
	p := Policy{Attempts: 1, Timeout: 10 * time.Millisecond}
	err := Do(context.Background(), p, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
