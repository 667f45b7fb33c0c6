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
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestParseGmailMessage_PlainText(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: 1700000000000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: `"Jane Doe" <Jane@Example.com>`},
				{Name: "Subject", Value: " Re: Proposal "},
				{Name: "Date", Value: "Tue, 14 Nov 2023 22:13:20 +0000"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("Sounds good,\r\nlet's talk.")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>ignored</p>")}},
			},
		},
	}

	got := parseGmailMessage(msg)

	if got.ID != "m1" || got.ThreadID != "t1" {
		t.Errorf("ids = %q/%q", got.ID, got.ThreadID)
	}
	if got.From.Address != "jane@example.com" {
		t.Errorf("From.Address = %q, want jane@example.com", got.From.Address)
	}
	if got.From.Name != "Jane Doe" {
		t.Errorf("From.Name = %q, want Jane Doe", got.From.Name)
	}
	if got.Subject != "Re: Proposal" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if got.BodyText != "Sounds good,\nlet's talk." {
		t.Errorf("BodyText = %q", got.BodyText)
	}
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if !got.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", got.Date, want)
	}
}

func TestParseGmailMessage_HTMLFallback(t *testing.T) {
	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Headers:  []*gmail.MessagePartHeader{{Name: "from", Value: "bob@example.com"}},
			Body:     &gmail.MessagePartBody{Data: b64("<div>Hello&nbsp;there</div><style>p{}</style><p>Bye &amp; thanks</p>")},
		},
	}

	got := parseGmailMessage(msg)
	if got.From.Address != "bob@example.com" {
		t.Errorf("From.Address = %q", got.From.Address)
	}
	if got.BodyText != "Hello there\nBye & thanks" {
		t.Errorf("BodyText = %q", got.BodyText)
	}
}

func TestParseGmailMessage_SnippetWhenNoBody(t *testing.T) {
	msg := &gmail.Message{
		Id:      "m3",
		Snippet: "I&#39;m out of office",
		Payload: &gmail.MessagePart{MimeType: "multipart/mixed"},
	}
	if got := parseGmailMessage(msg).BodyText; got != "I'm out of office" {
		t.Errorf("BodyText = %q", got)
	}
}

func TestParseSender(t *testing.T) {
	tests := []struct {
		raw, addr, name string
	}{
		{"alice@example.com", "alice@example.com", ""},
		{"Alice <ALICE@example.com>", "alice@example.com", "Alice"},
		{`"Broken, Name <x@y.com>`, "x@y.com", "Broken, Name"},
		{"", "", ""},
	}
	for _, tt := range tests {
		got := parseSender(tt.raw)
		if got.Address != tt.addr || got.Name != tt.name {
			t.Errorf("parseSender(%q) = %+v, want %q/%q", tt.raw, got, tt.addr, tt.name)
		}
	}
}

func TestDecodeBody_Unpadded(t *testing.T) {
	data := base64.RawURLEncoding.EncodeToString([]byte("hi?"))
	if got := decodeBody(data); got != "hi?" {
		t.Errorf("decodeBody = %q", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{&googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{&googleapi.Error{Code: http.StatusNotFound}, false},
		{fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusBadRequest}), false},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestStatusCode(t *testing.T) {
	err := fmt.Errorf("list history: %w", &googleapi.Error{Code: http.StatusNotFound})
	if got := statusCode(err); got != http.StatusNotFound {
		t.Errorf("statusCode = %d, want 404", got)
	}
	if got := statusCode(errors.New("x")); got != 0 {
		t.Errorf("statusCode = %d, want 0", got)
	}
}
