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

// Package agent runs the bounded tool-calling loop that classifies an
// inbound email and applies CRM actions for it.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/actions"
	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

// DefaultMaxTurns bounds the number of model calls per message.
const DefaultMaxTurns = 5

// Executor is the set of CRM actions the agent can invoke.
type Executor interface {
	MoveToStage(ctx context.Context, contact *models.Contact, name string) (models.FunnelStage, error)
	ScheduleFollowUp(ctx context.Context, contactID string, requested time.Time) (time.Time, bool, error)
	MarkReplied(ctx context.Context, contact *models.Contact) (actions.RepliedOutcome, error)
}

// ModelError reports a failed model call. Mutated tells whether any CRM
// action ran before the failure.
type ModelError struct {
	Turn    int
	Mutated bool
	Err     error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call on turn %d: %v", e.Turn, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Options tune the orchestrator.
type Options struct {
	MaxTurns  int
	BodyLimit int
}

// Orchestrator drives the agent loop.
type Orchestrator struct {
	model     Model
	exec      Executor
	tools     *toolset
	maxTurns  int
	bodyLimit int
	now       func() time.Time
}

// New creates an orchestrator.
func New(model Model, exec Executor, opts Options) (*Orchestrator, error) {
	ts, err := newToolset()
	if err != nil {
		return nil, fmt.Errorf("build toolset: %w", err)
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 3000
	}
	return &Orchestrator{
		model:     model,
		exec:      exec,
		tools:     ts,
		maxTurns:  opts.MaxTurns,
		bodyLimit: opts.BodyLimit,
		now:       time.Now,
	}, nil
}

// run is the per-message state.
type run struct {
	o       *Orchestrator
	contact *models.Contact
	result  models.AgentResult
	actions []string
}

// Run classifies the message and applies the actions the model requests.
// On a model failure the partial result is returned with a *ModelError.
func (o *Orchestrator) Run(ctx context.Context, in Input) (models.AgentResult, error) {
	r := &run{o: o, contact: in.Contact}
	transcript := []Message{{
		Role:    "user",
		Content: []Block{{Type: BlockText, Text: buildUserPrompt(in, o.bodyLimit, o.now())}},
	}}

	exhausted := true
	for turn := 0; turn < o.maxTurns; turn++ {
		resp, err := o.model.Complete(ctx, Request{
			System:      systemPrompt,
			Messages:    transcript,
			Tools:       o.tools.specs,
			RequireTool: turn == 0,
		})
		if err != nil {
			return r.finish(), &ModelError{Turn: turn, Mutated: len(r.actions) > 0, Err: err}
		}
		r.result.Turns = turn + 1

		uses := resp.ToolUses()
		if len(uses) == 0 {
			exhausted = false
			break
		}

		transcript = append(transcript, Message{Role: "assistant", Content: resp.Content})

		results := make([]Block, 0, len(uses))
		for _, use := range uses {
			call := o.tools.decode(use.Name, use.Input)
			out, isErr := r.dispatch(ctx, call)
			slog.Debug("tool executed",
				"tool", use.Name,
				"contact_id", in.Contact.ID,
				"turn", turn,
				"error", isErr,
			)
			results = append(results, Block{
				Type:      BlockToolResult,
				ToolUseID: use.ID,
				Content:   out,
				IsError:   isErr,
			})
		}
		transcript = append(transcript, Message{Role: "user", Content: results})
	}

	if exhausted {
		slog.Info("agent stopped at turn limit",
			"contact_id", in.Contact.ID,
			"message_id", in.Message.ID,
			"turns", r.result.Turns,
		)
	}

	return r.finish(), nil
}

func (r *run) finish() models.AgentResult {
	res := r.result
	if res.Classification == "" {
		res.Classification = models.ClassOther
	}
	if len(r.actions) == 0 {
		res.ActionTaken = models.NoActionTaken
	} else {
		res.ActionTaken = strings.Join(r.actions, " | ")
	}
	return res
}

// dispatch executes one call and renders its result for the model. Errors
// never escape; they are returned as text with isErr set.
func (r *run) dispatch(ctx context.Context, call Call) (string, bool) {
	switch c := call.(type) {
	case ClassifyCall:
		r.result.Classification = c.Classification
		r.result.Summary = strings.TrimSpace(c.Summary)
		return fmt.Sprintf("Recorded classification %q.", c.Classification), false

	case MarkRepliedCall:
		out, err := r.o.exec.MarkReplied(ctx, r.contact)
		if err != nil {
			return fmt.Sprintf("Failed to mark as replied: %v", err), true
		}
		r.result.FunnelStage = out.Stage.Name
		r.actions = append(r.actions, fmt.Sprintf("Marked as replied (%s)", strings.TrimSpace(c.Reason)))
		return fmt.Sprintf("Contact marked as replied: follow-up cancelled, %d sent email(s) flagged as replied, moved to stage %q.",
			out.SendsMarked, out.Stage.Name), false

	case FollowUpCall:
		date, corrected, err := r.o.exec.ScheduleFollowUp(ctx, r.contact.ID, c.Date)
		if err != nil {
			return fmt.Sprintf("Failed to set follow-up date: %v", err), true
		}
		d := date
		r.result.FollowUpDate = &d
		day := date.Format("2006-01-02")
		r.actions = append(r.actions, fmt.Sprintf("Follow-up set for %s", day))
		if corrected {
			return fmt.Sprintf("Requested date %s is in the past. Follow-up set for %s instead.", c.RawDate, day), false
		}
		return fmt.Sprintf("Follow-up set for %s.", day), false

	case FunnelStageCall:
		stage, err := r.o.exec.MoveToStage(ctx, r.contact, c.StageName)
		if err != nil {
			return fmt.Sprintf("Failed to move to stage %q: %v", c.StageName, err), true
		}
		r.result.FunnelStage = stage.Name
		r.actions = append(r.actions, fmt.Sprintf("Moved to stage %q", stage.Name))
		return fmt.Sprintf("Contact moved to stage %q.", stage.Name), false

	case FollowUpRulesCall:
		return followUpRules, false

	case InvalidCall:
		return fmt.Sprintf("Invalid arguments for %s: %v", c.Name, c.Err), true

	case UnknownCall:
		return "Unknown tool: " + c.Name, true

	default:
		return "Unknown tool: " + call.toolName(), true
	}
}
