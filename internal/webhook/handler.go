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

// Package webhook serves the HTTP surface of the inbox agent: the mailbox
// push endpoint, the bearer-protected lease renewal trigger, and the health
// and metrics endpoints.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/lease"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/metrics"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/processor"
)

// maxBodyBytes bounds the push envelope; real envelopes are well under 1 KiB.
const maxBodyBytes = 1 << 20

// Acknowledgment statuses. Every push request is answered with 200 so the
// delivery system never retries; the status says what actually happened.
const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// PushEnvelope is the body the push-delivery system POSTs.
type PushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Notification is the decoded envelope payload. The history ID arrives as a
// JSON number or a string depending on the sender.
type Notification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// PushResponse is the JSON acknowledgment of a push request.
type PushResponse struct {
	Status string `json:"status"`
	processor.Summary
}

// Processor handles decoded notifications.
type Processor interface {
	HandleNotification(ctx context.Context, account, historyID string) (processor.Summary, error)
}

// Renewer renews the watch lease.
type Renewer interface {
	RenewIfNeeded(ctx context.Context) (lease.Result, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the handler's collaborators.
type Config struct {
	Processor         Processor
	Lease             Renewer
	VerificationToken string // optional ?token= on the push URL
	CronSecret        string
	Checks            map[string]Pinger
	Gatherer          prometheus.Gatherer
	Metrics           *metrics.Metrics
}

// Handler serves the inbox agent's HTTP endpoints.
type Handler struct {
	processor  Processor
	lease      Renewer
	pushToken  string
	cronSecret string
	checks     map[string]Pinger
	gatherer   prometheus.Gatherer
	metrics    *metrics.Metrics
}

// NewHandler creates a handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		processor:  cfg.Processor,
		lease:      cfg.Lease,
		pushToken:  cfg.VerificationToken,
		cronSecret: cfg.CronSecret,
		checks:     cfg.Checks,
		gatherer:   cfg.Gatherer,
		metrics:    cfg.Metrics,
	}
}

// Routes returns the handler's mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/gmail", h.ServeNotification)
	mux.HandleFunc("GET /cron/renew-watch", h.ServeRenew)
	mux.HandleFunc("POST /cron/renew-watch", h.ServeRenew)
	mux.HandleFunc("GET /health", h.ServeHealth)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ServeNotification handles a push notification. Processing runs
// synchronously so the response can report counts, but on a context
// detached from the request: a dropped connection must not abort a message
// halfway through its CRM actions.
func (h *Handler) ServeNotification(w http.ResponseWriter, r *http.Request) {
	if h.pushToken != "" && !tokenEqual(r.URL.Query().Get("token"), h.pushToken) {
		slog.Warn("push notification with invalid token", "remote", r.RemoteAddr)
		h.ack(w, PushResponse{Status: StatusIgnored})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("failed to read push body", "error", err)
		h.ack(w, PushResponse{Status: StatusIgnored})
		return
	}

	n, err := decodePush(body)
	if err != nil {
		slog.Warn("ignoring malformed push notification", "body_len", len(body), "error", err)
		h.ack(w, PushResponse{Status: StatusIgnored})
		return
	}

	slog.Info("push notification received",
		"account", n.EmailAddress,
		"history_id", n.HistoryID.String(),
	)

	ctx := context.WithoutCancel(r.Context())
	sum, err := h.processor.HandleNotification(ctx, n.EmailAddress, n.HistoryID.String())
	switch {
	case errors.Is(err, processor.ErrUnknownAccount):
		h.ack(w, PushResponse{Status: StatusIgnored})
	case err != nil:
		slog.Error("notification processing failed", "history_id", n.HistoryID.String(), "error", err)
		h.ack(w, PushResponse{Status: StatusError, Summary: sum})
	default:
		h.ack(w, PushResponse{Status: StatusOK, Summary: sum})
	}
}

func (h *Handler) ack(w http.ResponseWriter, resp PushResponse) {
	h.metrics.Notification(resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

// decodePush extracts the notification from a push envelope.
func decodePush(body []byte) (Notification, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Message.Data == "" {
		return Notification{}, errors.New("envelope has no data")
	}

	raw, err := decodeData(env.Message.Data)
	if err != nil {
		return Notification{}, fmt.Errorf("decode data: %w", err)
	}

	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, fmt.Errorf("decode payload: %w", err)
	}
	if n.HistoryID == "" {
		return Notification{}, errors.New("payload has no historyId")
	}
	return n, nil
}

func decodeData(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not valid base64")
}

// ServeRenew is the periodic trigger for lease renewal. It requires
// "Authorization: Bearer <cron secret>".
func (h *Handler) ServeRenew(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || h.cronSecret == "" || !tokenEqual(strings.TrimSpace(token), h.cronSecret) {
		slog.Warn("unauthorized renewal trigger", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	res, err := h.lease.RenewIfNeeded(r.Context())
	if err != nil {
		slog.Error("lease renewal failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "renewal failed"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ServeHealth pings every configured dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name].Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			http.Error(w, name+" unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// Serve starts the HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned
// channel before starting to accept connections. When ctx is cancelled the
// server drains in-flight requests and closes the stopped channel.
func Serve(ctx context.Context, port int, handler http.Handler) (ready, stopped <-chan struct{}, err error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	readyCh := make(chan struct{})
	stoppedCh := make(chan struct{})

	go func() {
		defer close(stoppedCh)
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(readyCh)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return readyCh, stoppedCh, nil
}
