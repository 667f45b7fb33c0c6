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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/retry"
)

const userID = "me"

// Credentials identify the connected Gmail account.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Gmail is the Gmail-backed mailbox gateway.
type Gmail struct {
	svc    *gmail.Service
	label  string
	cb     *gobreaker.CircuitBreaker
	policy retry.Policy
}

// NewGmail builds a Gmail service authorised by a stored refresh token.
func NewGmail(ctx context.Context, creds Credentials, label string) (*Gmail, error) {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return newGmail(svc, label), nil
}

func newGmail(svc *gmail.Service, label string) *Gmail {
	policy := retry.Default
	policy.Retryable = isTransient

	return &Gmail{
		svc:    svc,
		label:  label,
		cb:     newBreaker("gmail-api"),
		policy: policy,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// ListChanges returns the IDs of messages added after cursor, in history
// order, and the provider's newest cursor.
func (g *Gmail) ListChanges(ctx context.Context, cursor string) (ChangeSet, error) {
	start, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("parse history cursor %q: %w", cursor, err)
	}

	var (
		ids       []string
		seen      = make(map[string]bool)
		newCursor uint64
		pageToken string
	)

	for {
		var resp *gmail.ListHistoryResponse
		err := g.call(ctx, "list history", func(ctx context.Context) error {
			call := g.svc.Users.History.List(userID).
				StartHistoryId(start).
				HistoryTypes("messageAdded").
				Context(ctx)
			if g.label != "" {
				call = call.LabelId(g.label)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var apiErr error
			resp, apiErr = call.Do()
			return apiErr
		})
		if err != nil {
			if statusCode(err) == http.StatusNotFound {
				return ChangeSet{}, ErrCursorExpired
			}
			return ChangeSet{}, err
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				ids = append(ids, added.Message.Id)
			}
		}
		if resp.HistoryId > newCursor {
			newCursor = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if newCursor == 0 {
		newCursor = start
	}

	return ChangeSet{MessageIDs: ids, NewCursor: strconv.FormatUint(newCursor, 10)}, nil
}

// GetMessage fetches a full message. It returns nil, nil if the message
// has been deleted since it was listed.
func (g *Gmail) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg *gmail.Message
	err := g.call(ctx, "get message", func(ctx context.Context) error {
		var apiErr error
		msg, apiErr = g.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			slog.Warn("message not found (may have been deleted)", "message_id", id)
			return nil, nil
		}
		return nil, err
	}
	return parseGmailMessage(msg), nil
}

// StartWatch starts (or renews) the push watch on the configured label.
func (g *Gmail) StartWatch(ctx context.Context, topic string) (Watch, error) {
	req := &gmail.WatchRequest{TopicName: topic}
	if g.label != "" {
		req.LabelIds = []string{g.label}
	}

	var resp *gmail.WatchResponse
	err := g.call(ctx, "start watch", func(ctx context.Context) error {
		var apiErr error
		resp, apiErr = g.svc.Users.Watch(userID, req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return Watch{}, err
	}

	return Watch{
		HistoryID:  strconv.FormatUint(resp.HistoryId, 10),
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopWatch stops push notifications for the mailbox.
func (g *Gmail) StopWatch(ctx context.Context) error {
	return g.call(ctx, "stop watch", func(ctx context.Context) error {
		return g.svc.Users.Stop(userID).Context(ctx).Do()
	})
}

// CurrentCursor returns the mailbox's latest history ID.
func (g *Gmail) CurrentCursor(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := g.call(ctx, "get profile", func(ctx context.Context) error {
		var apiErr error
		profile, apiErr = g.svc.Users.GetProfile(userID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// call runs fn through the circuit breaker with timeout and retry.
func (g *Gmail) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, g.policy, op, func(ctx context.Context) error {
		_, err := g.cb.Execute(func() (interface{}, error) {
			if err := fn(ctx); err != nil {
				if !isTransient(err) {
					// Client errors must not trip the breaker.
					return nil, &nonCircuitError{err: err}
				}
				return nil, err
			}
			return nil, nil
		})

		var nce *nonCircuitError
		if errors.As(err, &nce) {
			return retry.Permanent(nce.err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return retry.Permanent(err)
		}
		return err
	})
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }
func (e *nonCircuitError) Unwrap() error { return e.err }

// isTransient reports whether a Gmail error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return true
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
