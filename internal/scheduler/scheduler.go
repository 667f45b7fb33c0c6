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

// Package scheduler runs periodic jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named jobs on standard five-field cron specs or
// descriptors such as "@every 1h".
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	jobs    map[string]cron.EntryID
}

// New creates an idle scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Add registers fn under name. Overlapping runs of the same job are
// skipped rather than queued.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var busy sync.Mutex
	id, err := s.cron.AddFunc(spec, func() {
		if !busy.TryLock() {
			slog.Warn("scheduled job still running, skipping", "job", name)
			return
		}
		defer busy.Unlock()

		start := time.Now()
		fn(s.ctx)
		slog.Debug("scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("add cron job %s: %w", name, err)
	}
	s.jobs[name] = id
	slog.Info("scheduled job registered", "job", name, "schedule", spec)
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.jobs) == 0 {
		return
	}
	s.cron.Start()
	s.running = true
}

// Next returns the next run time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Stop cancels running jobs and waits up to timeout for them to return.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("scheduler stopped")
	case <-time.After(timeout):
		slog.Warn("scheduler stop timed out")
	}
	s.running = false
}
