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

// Package retry wraps external calls with a per-attempt timeout and a small
// bounded retry using jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// Policy controls how an operation is attempted.
type Policy struct {
	Attempts   int           // total attempts, including the first
	Timeout    time.Duration // per-attempt timeout; zero disables
	Initial    time.Duration // first backoff pause
	Max        time.Duration // backoff ceiling
	Multiplier float64

	// Retryable reports whether err is transient. Nil retries every error
	// except context cancellation.
	Retryable func(error) bool
}

// Default is used for CRM and gateway calls.
var Default = Policy{
	Attempts:   3,
	Timeout:    15 * time.Second,
	Initial:    200 * time.Millisecond,
	Max:        2 * time.Second,
	Multiplier: 2,
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned wrapped with op.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	bo := gax.Backoff{
		Initial:    p.Initial,
		Max:        p.Max,
		Multiplier: p.Multiplier,
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = runOnce(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}

		var perm *permanent
		if errors.As(err, &perm) {
			return fmt.Errorf("%s: %w", op, perm.err)
		}
		if !p.retryable(err) || attempt == attempts {
			break
		}

		if sleepErr := gax.Sleep(ctx, bo.Pause()); sleepErr != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func runOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}
