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

package gateway

import (
	"encoding/base64"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

var (
	tagPattern   = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	spacePattern = regexp.MustCompile(`[ \t]+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
	anglePattern = regexp.MustCompile(`<([^<>@\s]+@[^<>\s]+)>`)
)

// parseGmailMessage converts a full-format Gmail message into a Message.
func parseGmailMessage(msg *gmail.Message) *models.Message {
	out := &models.Message{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		out.BodyText = html.UnescapeString(msg.Snippet)
		return out
	}

	headers := make(map[string]string, len(msg.Payload.Headers))
	for _, h := range msg.Payload.Headers {
		// First occurrence wins.
		key := strings.ToLower(h.Name)
		if _, ok := headers[key]; !ok {
			headers[key] = h.Value
		}
	}

	out.From = parseSender(headers["from"])
	out.Subject = strings.TrimSpace(headers["subject"])
	out.Date = out.ReceivedAt
	if d, err := mail.ParseDate(headers["date"]); err == nil {
		out.Date = d.UTC()
	}

	out.BodyText = extractText(msg.Payload)
	if out.BodyText == "" {
		out.BodyText = html.UnescapeString(msg.Snippet)
	}
	return out
}

// parseSender splits a From header into address and display name.
func parseSender(raw string) models.EmailAddress {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.EmailAddress{}
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return models.EmailAddress{Address: models.NormalizeAddress(addr.Address), Name: addr.Name}
	}
	if m := anglePattern.FindStringSubmatch(raw); m != nil {
		name := strings.Trim(strings.TrimSpace(raw[:strings.Index(raw, "<")]), `"`)
		return models.EmailAddress{Address: models.NormalizeAddress(m[1]), Name: name}
	}
	return models.EmailAddress{Address: models.NormalizeAddress(raw)}
}

// extractText prefers the first text/plain part and falls back to the
// first text/html part with markup stripped.
func extractText(part *gmail.MessagePart) string {
	if plain := findPart(part, "text/plain"); plain != "" {
		return strings.TrimSpace(plain)
	}
	if markup := findPart(part, "text/html"); markup != "" {
		return stripHTML(markup)
	}
	return ""
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Filename == "" && part.Body != nil {
		if text := decodeBody(part.Body.Data); text != "" {
			return text
		}
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return ""
		}
	}
	return strings.ReplaceAll(string(b), "\r\n", "\n")
}

func stripHTML(s string) string {
	s = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n\n", "</div>", "\n").Replace(s)
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(html.UnescapeString(s), "\u00a0", " ")
	s = spacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
