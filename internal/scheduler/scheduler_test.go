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

package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := New()
	if err := s.Add("bad", "not a schedule", func(context.Context) {}); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestScheduler_RunsJob(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 1)
	if err := s.Add("tick", "@every 1s", func(ctx context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, ok := s.Next("tick"); !ok {
		t.Error("Next should know the registered job")
	}

	s.Start()
	defer s.Stop(time.Second)

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
