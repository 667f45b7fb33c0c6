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

package models

import "time"

// Classifications assigned to inbound messages.
const (
	ClassInterested    = "interested"
	ClassNotInterested = "not_interested"
	ClassReply         = "reply"
	ClassQuestion      = "question"
	ClassOutOfOffice   = "out_of_office"
	ClassBounce        = "bounce"
	ClassUnsubscribe   = "unsubscribe"
	ClassUnrelated     = "unrelated"
	ClassOther         = "other"
)

// Classifications lists every accepted classification value.
var Classifications = []string{
	ClassInterested,
	ClassNotInterested,
	ClassReply,
	ClassQuestion,
	ClassOutOfOffice,
	ClassBounce,
	ClassUnsubscribe,
	ClassUnrelated,
	ClassOther,
}

// NoActionTaken is the action log value when the agent executed no mutation.
const NoActionTaken = "No action taken"

// AgentResult is the structured outcome of one agent run.
type AgentResult struct {
	Classification string     `json:"classification"`
	Summary        string     `json:"summary"`
	ActionTaken    string     `json:"action_taken"`
	FollowUpDate   *time.Time `json:"follow_up_date,omitempty"`
	FunnelStage    string     `json:"funnel_stage,omitempty"`
	Turns          int        `json:"turns"`
}

// ProcessedMessage is the immutable audit record written once per provider
// message ID.
type ProcessedMessage struct {
	ID                string     `json:"id"`
	ProviderMessageID string     `json:"provider_message_id"`
	ContactID         *string    `json:"contact_id,omitempty"`
	ThreadID          string     `json:"thread_id,omitempty"`
	FromAddress       string     `json:"from_address"`
	Subject           string     `json:"subject"`
	BodyExcerpt       string     `json:"body_excerpt"`
	Classification    string     `json:"classification"`
	Summary           string     `json:"summary"`
	ActionTaken       string     `json:"action_taken"`
	FollowUpDate      *time.Time `json:"follow_up_date,omitempty"`
	FunnelStage       string     `json:"funnel_stage,omitempty"`
	ProcessedAt       time.Time  `json:"processed_at"`
	ReceivedAt        time.Time  `json:"received_at"`
}

// AdminNotification summarises a processed message for a human operator.
type AdminNotification struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	MessageID      string    `json:"message_id"`
	ContactID      string    `json:"contact_id,omitempty"`
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	Classification string    `json:"classification"`
	Summary        string    `json:"summary"`
	ActionTaken    string    `json:"action_taken"`
	CreatedAt      time.Time `json:"created_at"`
}
