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

// Package queue publishes admin notifications to Redis and keeps the
// retry queue of listed messages that have not been processed yet.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

// Publisher pushes admin notifications onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// notificationEnvelope is the JSON shape consumed by the admin dashboard.
type notificationEnvelope struct {
	Type    string                   `json:"type"`
	Version int                      `json:"version"`
	Payload models.AdminNotification `json:"payload"`
}

// Notify serialises the notification and LPUSHes it to the queue. An empty
// ID or timestamp is filled in.
func (p *Publisher) Notify(ctx context.Context, n models.AdminNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Kind == "" {
		n.Kind = "inbound_email"
	}

	body, err := json.Marshal(notificationEnvelope{
		Type:    "admin_notification",
		Version: 1,
		Payload: n,
	})
	if err != nil {
		return fmt.Errorf("marshal admin notification: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(body)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published admin notification",
		"notification_id", n.ID,
		"message_id", n.MessageID,
		"classification", n.Classification,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
