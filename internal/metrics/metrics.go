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

// Package metrics holds the Prometheus metrics exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inbox_agent"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Notifications  *prometheus.CounterVec
	Messages       *prometheus.CounterVec
	SyncDuration   prometheus.Histogram
	AgentTurns     prometheus.Histogram
	Classification *prometheus.CounterVec
	RetryPending   prometheus.Gauge
	LeaseRenewals  *prometheus.CounterVec
	LeaseExpiry    prometheus.Gauge
}

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push notifications received, by outcome.",
		}, []string{"status"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages handled, by outcome.",
		}, []string{"outcome"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Time spent handling one notification or poll.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		AgentTurns: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_turns",
			Help:      "Model calls per agent run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		Classification: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Audit records written, by classification.",
		}, []string{"classification"}),
		RetryPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_pending",
			Help:      "Messages waiting in the retry queue.",
		}),
		LeaseRenewals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_renewals_total",
			Help:      "Watch lease renewal checks, by result.",
		}, []string{"result"}),
		LeaseExpiry: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lease_expiry_timestamp_seconds",
			Help:      "Unix time at which the current watch lease expires.",
		}),
	}
}

func (m *Metrics) Notification(status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(status).Inc()
}

func (m *Metrics) Message(outcome string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSync(d time.Duration) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveAgent(turns int, classification string) {
	if m == nil {
		return
	}
	if turns > 0 {
		m.AgentTurns.Observe(float64(turns))
	}
	m.Classification.WithLabelValues(classification).Inc()
}

func (m *Metrics) SetRetryPending(n int) {
	if m == nil {
		return
	}
	m.RetryPending.Set(float64(n))
}

func (m *Metrics) LeaseRenewal(result string, expiresAt time.Time) {
	if m == nil {
		return
	}
	m.LeaseRenewals.WithLabelValues(result).Inc()
	if !expiresAt.IsZero() {
		m.LeaseExpiry.Set(float64(expiresAt.Unix()))
	}
}
