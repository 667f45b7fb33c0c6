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
	"testing"
)

type mockClaimer struct {
	markers  map[string]string
	markErr  error
	released int
}

func (m *mockClaimer) Claim(_ context.Context, id string) (State, error) {
	if v, ok := m.markers[id]; ok {
		return stateOf(v), nil
	}
	m.markers[id] = markerProcessing
	return Claimed, nil
}

func (m *mockClaimer) MarkDone(_ context.Context, id string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.markers[id] = markerDone
	return nil
}

func (m *mockClaimer) Release(_ context.Context, id string) error {
	m.released++
	delete(m.markers, id)
	return nil
}

type mockRecorder struct {
	seen      map[string]bool
	recordErr error
}

func (m *mockRecorder) Seen(_ context.Context, id string) (bool, error) {
	return m.seen[id], nil
}

func (m *mockRecorder) Record(_ context.Context, id string) (bool, error) {
	if m.recordErr != nil {
		return false, m.recordErr
	}
	m.seen[id] = true
	return true, nil
}

func newTestIndex() (*Index, *mockClaimer, *mockRecorder) {
	c := &mockClaimer{markers: make(map[string]string)}
	r := &mockRecorder{seen: make(map[string]bool)}
	return &Index{filter: c, ledger: r}, c, r
}

func TestIndex_ClaimCompleteCycle(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newTestIndex()

	if st, _ := x.Claim(ctx, "m1"); st != Claimed {
		t.Fatalf("first claim = %v, want claimed", st)
	}
	if st, _ := x.Claim(ctx, "m1"); st != InFlight {
		t.Errorf("concurrent claim = %v, want in_flight", st)
	}
	if err := x.Complete(ctx, "m1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if st, _ := x.Claim(ctx, "m1"); st != Done {
		t.Errorf("claim after complete = %v, want done", st)
	}
}

func TestIndex_CompleteMarksDoneWhenLedgerFails(t *testing.T) {
	ctx := context.Background()
	x, c, r := newTestIndex()
	r.recordErr = errors.New("postgres down")

	x.Claim(ctx, "m1")
	if err := x.Complete(ctx, "m1"); err == nil {
		t.Error("expected the ledger error to be reported")
	}
	if c.markers["m1"] != markerDone {
		t.Errorf("marker = %q, want done", c.markers["m1"])
	}
	if st, _ := x.Claim(ctx, "m1"); st != Done {
		t.Errorf("re-listed message state = %v, want done", st)
	}
}

func TestIndex_CompleteToleratesMarkerFailure(t *testing.T) {
	ctx := context.Background()
	x, c, r := newTestIndex()
	c.markErr = errors.New("redis down")

	x.Claim(ctx, "m1")
	if err := x.Complete(ctx, "m1"); err != nil {
		t.Errorf("Complete = %v, want nil when the ledger write succeeded", err)
	}
	if !r.seen["m1"] {
		t.Error("ledger should hold the message")
	}
}

func TestIndex_Release(t *testing.T) {
	ctx := context.Background()
	x, c, _ := newTestIndex()

	x.Claim(ctx, "m1")
	if err := x.Release(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if c.released != 1 {
		t.Errorf("released = %d, want 1", c.released)
	}
	if st, _ := x.Claim(ctx, "m1"); st != Claimed {
		t.Errorf("claim after release = %v, want claimed", st)
	}
}
