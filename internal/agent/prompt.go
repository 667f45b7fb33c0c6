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

package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

const systemPrompt = `You are the inbox assistant for an outreach agency CRM. Each message you
receive is an inbound email from a contact in one of our outreach campaigns.

Your job:
1. Call classify_and_summarize first with the best matching classification.
2. Decide which CRM actions the email warrants and call the matching tools.
3. Stop calling tools once the CRM reflects the email. Do not repeat actions.

Guidelines:
- A genuine human reply (interested, not interested, question, or any real
  response) means the contact has replied: call mark_as_replied.
- Use set_funnel_stage when the email clearly moves the contact along the
  pipeline, for example "Interested", "Not Interested", "Meeting Booked",
  "Out of Office" or "Bounced".
- Out-of-office replies and bounces are not real replies. Do not mark them
  as replied. For out-of-office replies schedule a follow-up after the
  sender's return date.
- Call get_follow_up_rules before scheduling a follow-up if you are unsure.
- If a tool reports an error, explain it in your final answer instead of
  retrying the same call.`

const followUpRules = `Follow-up rules:
- Dates use YYYY-MM-DD and must be today or later. Past dates are replaced
  with a date three days from now.
- Out of office: follow up one business day after the stated return date. If
  no return date is given, follow up in 7 days.
- "Not now" or "reach out later": follow up on the requested date, or in 30
  days if none is given.
- Questions that need an answer from the team: follow up in 2 days.
- Interested contacts: do not schedule a follow-up; the team handles them.
- Not interested or unsubscribe requests: never schedule a follow-up.
- Bounces: never schedule a follow-up.`

// Input is the context the agent sees for one inbound message.
type Input struct {
	Contact      *models.Contact
	Message      *models.Message
	LastOutbound *models.OutboundEmail
}

// buildUserPrompt renders the single user turn that seeds the transcript.
func buildUserPrompt(in Input, bodyLimit int, now time.Time) string {
	var sb strings.Builder
	c := in.Contact
	m := in.Message

	sb.WriteString(fmt.Sprintf("Today is %s.\n\n", now.UTC().Format("2006-01-02 (Monday)")))

	sb.WriteString("Inbound email:\n")
	sb.WriteString(fmt.Sprintf("From: %s\n", formatAddress(m.From)))
	sb.WriteString(fmt.Sprintf("Subject: %s\n", m.Subject))
	if !m.Date.IsZero() {
		sb.WriteString(fmt.Sprintf("Date: %s\n", m.Date.UTC().Format(time.RFC1123Z)))
	}
	sb.WriteString("\n")

	sb.WriteString("Contact:\n")
	sb.WriteString(fmt.Sprintf("Name: %s\n", orUnknown(c.Name)))
	sb.WriteString(fmt.Sprintf("Email: %s\n", c.Email))
	sb.WriteString(fmt.Sprintf("Company: %s\n", orUnknown(c.Company)))
	sb.WriteString(fmt.Sprintf("Campaign: %s\n", orUnknown(c.CampaignName)))
	if c.FollowUpDate != nil && !c.FollowUpCancelled {
		sb.WriteString(fmt.Sprintf("Pending follow-up: %s\n", c.FollowUpDate.UTC().Format("2006-01-02")))
	}
	sb.WriteString("\n")

	if o := in.LastOutbound; o != nil {
		sb.WriteString("Our last email to this contact:\n")
		sb.WriteString(fmt.Sprintf("Sent: %s\n", o.SentAt.UTC().Format("2006-01-02")))
		sb.WriteString(fmt.Sprintf("Subject: %s\n", o.Subject))
		sb.WriteString(models.Excerpt(o.Body, bodyLimit))
		sb.WriteString("\n\n")
	}

	sb.WriteString("Body:\n")
	sb.WriteString(models.Excerpt(m.BodyText, bodyLimit))

	return sb.String()
}

func formatAddress(a models.EmailAddress) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unknown)"
	}
	return s
}
