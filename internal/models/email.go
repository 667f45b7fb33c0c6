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

// Package models defines the data structures shared across the inbox agent.
package models

import (
	"strings"
	"time"
)

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Message is a fully fetched inbound email as returned by the mailbox gateway.
type Message struct {
	ID         string       `json:"id"`
	ThreadID   string       `json:"thread_id,omitempty"`
	From       EmailAddress `json:"from"`
	Subject    string       `json:"subject"`
	Date       time.Time    `json:"date"`
	BodyText   string       `json:"body_text"`
	ReceivedAt time.Time    `json:"received_at"`
}

// NormalizeAddress lowercases and trims an email address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Excerpt returns at most limit runes of s, appending an ellipsis when cut.
func Excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
