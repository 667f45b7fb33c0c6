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

// Contact is a CRM contact. The CRM store owns it; the agent only mutates
// follow-up and stage state through the action executors.
type Contact struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name,omitempty"`
	Company           string     `json:"company,omitempty"`
	CampaignID        string     `json:"campaign_id"`
	CampaignName      string     `json:"campaign_name,omitempty"`
	FollowUpDate      *time.Time `json:"follow_up_date,omitempty"`
	FollowUpCancelled bool       `json:"follow_up_cancelled"`
	Unsubscribed      bool       `json:"unsubscribed"`
}

// FunnelStage is a named pipeline position within a campaign.
type FunnelStage struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Order      int    `json:"order"`
	Color      string `json:"color"`
}

// OutboundEmail is an email previously sent to a contact by a campaign.
type OutboundEmail struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
	Replied   bool      `json:"replied"`
}
