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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAnthropic_Complete(t *testing.T) {
	var got apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Classifying."},
				{"type": "tool_use", "id": "tu_1", "name": "classify_and_summarize",
				 "input": {"classification": "reply", "summary": "ok"}}
			]
		}`)
	}))
	defer srv.Close()

	client := NewAnthropic(AnthropicConfig{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	resp, err := client.Complete(context.Background(), Request{
		System:      "sys",
		Messages:    []Message{{Role: "user", Content: []Block{{Type: BlockText, Text: "hi"}}}},
		Tools:       []ToolSpec{{Name: "x", Description: "d", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		RequireTool: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Model != defaultModel || got.MaxTokens != defaultMaxTokens {
		t.Errorf("model/max_tokens = %q/%d", got.Model, got.MaxTokens)
	}
	if got.ToolChoice == nil || got.ToolChoice.Type != "any" {
		t.Errorf("tool_choice = %+v, want any", got.ToolChoice)
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].Name != "classify_and_summarize" || uses[0].ID != "tu_1" {
		t.Fatalf("tool uses = %+v", uses)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
}

func TestAnthropic_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
			return
		}
		io.WriteString(w, `{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	client := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	client.policy.Initial = time.Millisecond
	client.policy.Max = time.Millisecond

	resp, err := client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if len(resp.ToolUses()) != 0 {
		t.Error("expected no tool uses")
	}
}

func TestAnthropic_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad tool schema"}}`)
	}))
	defer srv.Close()

	client := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), Request{})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusBadRequest || se.Message != "bad tool schema" {
		t.Errorf("StatusError = %+v", se)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestToolset_SchemasCompile(t *testing.T) {
	ts, err := newToolset()
	if err != nil {
		t.Fatalf("newToolset: %v", err)
	}
	for _, spec := range ts.specs {
		var schema map[string]any
		if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
			t.Errorf("%s: schema is not JSON: %v", spec.Name, err)
		}
		if schema["type"] != "object" {
			t.Errorf("%s: schema type = %v", spec.Name, schema["type"])
		}
	}

	call := ts.decode(ToolFollowUp, json.RawMessage(`{"follow_up_date":"2026-07-01","reason":"ooo"}`))
	fu, ok := call.(FollowUpCall)
	if !ok {
		t.Fatalf("decode = %T, want FollowUpCall", call)
	}
	if !fu.Date.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", fu.Date)
	}

	if _, ok := ts.decode(ToolMarkReplied, nil).(InvalidCall); !ok {
		t.Error("missing required reason should be invalid")
	}
}
