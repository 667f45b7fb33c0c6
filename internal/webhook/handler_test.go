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

package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/lease"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/metrics"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/processor"
)

type fakeProcessor struct {
	calls   int
	account string
	history string
	sum     processor.Summary
	err     error
}

func (f *fakeProcessor) HandleNotification(ctx context.Context, account, historyID string) (processor.Summary, error) {
	f.calls++
	f.account, f.history = account, historyID
	return f.sum, f.err
}

type fakeRenewer struct {
	calls int
	res   lease.Result
	err   error
}

func (f *fakeRenewer) RenewIfNeeded(context.Context) (lease.Result, error) {
	f.calls++
	return f.res, f.err
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func pushBody(t *testing.T, payload string) string {
	t.Helper()
	env := map[string]any{
		"message": map[string]string{
			"data":        base64.StdEncoding.EncodeToString([]byte(payload)),
			"messageId":   "pm-1",
			"publishTime": "2026-06-01T10:00:00Z",
		},
		"subscription": "projects/p/subscriptions/inbox",
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func post(t *testing.T, h http.Handler, target, body string) (*httptest.ResponseRecorder, PushResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp PushResponse
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, resp
}

func TestServeNotification_ProcessesPush(t *testing.T) {
	proc := &fakeProcessor{sum: processor.Summary{Found: 2, Processed: 1, Skipped: 1}}
	h := NewHandler(Config{Processor: proc}).Routes()

	rr, resp := post(t, h, "/webhook/gmail", pushBody(t, `{"emailAddress":"team@agency.com","historyId":12345}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if resp.Status != StatusOK || resp.Found != 2 || resp.Processed != 1 || resp.Skipped != 1 {
		t.Errorf("response = %+v", resp)
	}
	if proc.account != "team@agency.com" || proc.history != "12345" {
		t.Errorf("processor got (%q, %q)", proc.account, proc.history)
	}
}

func TestServeNotification_StringHistoryID(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHandler(Config{Processor: proc}).Routes()

	post(t, h, "/webhook/gmail", pushBody(t, `{"emailAddress":"team@agency.com","historyId":"987"}`))

	if proc.history != "987" {
		t.Errorf("history = %q, want 987", proc.history)
	}
}

func TestServeNotification_MalformedIsAcknowledged(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"no data", `{"message":{"messageId":"1"}}`},
		{"bad base64", `{"message":{"data":"%%%"}}`},
		{"payload not json", `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte("oops")) + `"}}`},
		{"no history id", `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"a@b.c"}`)) + `"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			h := NewHandler(Config{Processor: proc}).Routes()

			rr, resp := post(t, h, "/webhook/gmail", tt.body)

			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rr.Code)
			}
			if resp.Status != StatusIgnored {
				t.Errorf("status field = %q, want ignored", resp.Status)
			}
			if proc.calls != 0 {
				t.Error("processor must not run for a malformed push")
			}
		})
	}
}

func TestServeNotification_ErrorsStillReturn200(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("postgres down")}
	h := NewHandler(Config{Processor: proc}).Routes()

	rr, resp := post(t, h, "/webhook/gmail", pushBody(t, `{"emailAddress":"team@agency.com","historyId":1}`))

	if rr.Code != http.StatusOK || resp.Status != StatusError {
		t.Errorf("got %d %+v, want 200 error", rr.Code, resp)
	}
}

func TestServeNotification_UnknownAccountIgnored(t *testing.T) {
	proc := &fakeProcessor{err: processor.ErrUnknownAccount}
	h := NewHandler(Config{Processor: proc}).Routes()

	_, resp := post(t, h, "/webhook/gmail", pushBody(t, `{"emailAddress":"x@y.z","historyId":1}`))

	if resp.Status != StatusIgnored {
		t.Errorf("status = %q, want ignored", resp.Status)
	}
}

func TestServeNotification_VerificationToken(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHandler(Config{Processor: proc, VerificationToken: "s3cret"}).Routes()
	body := pushBody(t, `{"emailAddress":"team@agency.com","historyId":1}`)

	_, resp := post(t, h, "/webhook/gmail?token=wrong", body)
	if resp.Status != StatusIgnored || proc.calls != 0 {
		t.Errorf("wrong token: status = %q, calls = %d", resp.Status, proc.calls)
	}

	_, resp = post(t, h, "/webhook/gmail?token=s3cret", body)
	if resp.Status != StatusOK || proc.calls != 1 {
		t.Errorf("right token: status = %q, calls = %d", resp.Status, proc.calls)
	}
}

func TestServeRenew_RequiresBearerToken(t *testing.T) {
	renewer := &fakeRenewer{}
	h := NewHandler(Config{Lease: renewer, CronSecret: "cron-secret"}).Routes()

	for _, auth := range []string{"", "Bearer wrong", "cron-secret", "Basic cron-secret"} {
		req := httptest.NewRequest(http.MethodGet, "/cron/renew-watch", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, rr.Code)
		}
	}
	if renewer.calls != 0 {
		t.Errorf("renewer called %d times without authorization", renewer.calls)
	}
}

func TestServeRenew_Authorized(t *testing.T) {
	exp := time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	renewer := &fakeRenewer{res: lease.Result{Renewed: true, ExpiresAt: exp}}
	h := NewHandler(Config{Lease: renewer, CronSecret: "cron-secret"}).Routes()

	req := httptest.NewRequest(http.MethodPost, "/cron/renew-watch", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got lease.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Renewed || !got.ExpiresAt.Equal(exp) {
		t.Errorf("result = %+v", got)
	}
}

func TestServeRenew_FailureIs500(t *testing.T) {
	renewer := &fakeRenewer{err: errors.New("gmail down")}
	h := NewHandler(Config{Lease: renewer, CronSecret: "cron-secret"}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/cron/renew-watch", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestServeHealth(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	tests := []struct {
		name   string
		checks map[string]Pinger
		want   int
	}{
		{"all healthy", map[string]Pinger{"postgres": ok, "redis": ok}, http.StatusOK},
		{"redis down", map[string]Pinger{"postgres": ok, "redis": down}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Config{Checks: tt.checks}).Routes()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint_CountsNotifications(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHandler(Config{
		Processor: &fakeProcessor{},
		Gatherer:  reg,
		Metrics:   metrics.New(reg),
	}).Routes()

	post(t, h, "/webhook/gmail", "garbage")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `inbox_agent_notifications_total{status="ignored"} 1`) {
		t.Errorf("metrics output missing ignored notification:\n%s", rr.Body.String())
	}
}
