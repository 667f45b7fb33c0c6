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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Message("processed")
	m.Message("processed")
	m.Message("skipped")
	m.LeaseRenewal("renewed", time.Unix(1700000000, 0))

	if got := testutil.ToFloat64(m.Messages.WithLabelValues("processed")); got != 2 {
		t.Errorf("processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LeaseExpiry); got != 1700000000 {
		t.Errorf("lease expiry = %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Notification("ok")
	m.Message("processed")
	m.ObserveSync(time.Second)
	m.ObserveAgent(3, "reply")
	m.SetRetryPending(1)
	m.LeaseRenewal("renewed", time.Now())
}
