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
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/TobiRiad/Agency-CRM-sub001/internal/models"
)

// Tool names offered to the model.
const (
	ToolClassify      = "classify_and_summarize"
	ToolMarkReplied   = "mark_as_replied"
	ToolFollowUp      = "set_follow_up_date"
	ToolFunnelStage   = "set_funnel_stage"
	ToolFollowUpRules = "get_follow_up_rules"
)

// Call is a decoded tool call. The set of implementations is closed.
type Call interface {
	toolName() string
}

// ClassifyCall records the classification and summary on the result.
type ClassifyCall struct {
	Classification string `json:"classification"`
	Summary        string `json:"summary"`
}

// MarkRepliedCall cancels the follow-up, flags sends replied and moves the
// contact to the Replied stage.
type MarkRepliedCall struct {
	Reason string `json:"reason"`
}

// FollowUpCall schedules a follow-up.
type FollowUpCall struct {
	Date    time.Time `json:"-"`
	RawDate string    `json:"follow_up_date"`
	Reason  string    `json:"reason"`
}

// FunnelStageCall moves the contact to a named stage.
type FunnelStageCall struct {
	StageName string `json:"stage_name"`
}

// FollowUpRulesCall returns the follow-up policy text.
type FollowUpRulesCall struct{}

// UnknownCall is a tool name the agent does not offer.
type UnknownCall struct {
	Name string
}

// InvalidCall is a known tool whose input failed validation.
type InvalidCall struct {
	Name string
	Err  error
}

func (ClassifyCall) toolName() string      { return ToolClassify }
func (MarkRepliedCall) toolName() string   { return ToolMarkReplied }
func (FollowUpCall) toolName() string      { return ToolFollowUp }
func (FunnelStageCall) toolName() string   { return ToolFunnelStage }
func (FollowUpRulesCall) toolName() string { return ToolFollowUpRules }
func (c UnknownCall) toolName() string     { return c.Name }
func (c InvalidCall) toolName() string     { return c.Name }

type tool struct {
	spec   ToolSpec
	schema *jsonschema.Schema
	decode func(input []byte) (Call, error)
}

// toolset holds the compiled tool definitions.
type toolset struct {
	byName map[string]tool
	specs  []ToolSpec
}

func decodeInto[T Call](input []byte) (Call, error) {
	var c T
	if err := json.Unmarshal(input, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeFollowUp(input []byte) (Call, error) {
	var c FollowUpCall
	if err := json.Unmarshal(input, &c); err != nil {
		return nil, err
	}
	d, err := time.Parse("2006-01-02", c.RawDate[:10])
	if err != nil {
		return nil, fmt.Errorf("follow_up_date: %w", err)
	}
	c.Date = d
	return c, nil
}

type toolDef struct {
	name        string
	description string
	schema      map[string]any
	decode      func([]byte) (Call, error)
}

func toolDefinitions() []toolDef {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	object := func(props map[string]any, required ...string) map[string]any {
		o := map[string]any{
			"type":                 "object",
			"properties":           props,
			"additionalProperties": false,
		}
		if len(required) > 0 {
			o["required"] = required
		}
		return o
	}

	classification := str("Category of the inbound email")
	classification["enum"] = models.Classifications

	date := str("Follow-up date in YYYY-MM-DD format")
	date["pattern"] = `^\d{4}-\d{2}-\d{2}`

	stage := str("Name of the funnel stage, e.g. Interested or Meeting Booked")
	stage["minLength"] = 1

	return []toolDef{
		{
			name:        ToolClassify,
			description: "Classify the inbound email and write a one or two sentence summary. Always call this first.",
			schema: object(map[string]any{
				"classification": classification,
				"summary":        str("Short summary of what the sender wants"),
			}, "classification", "summary"),
			decode: decodeInto[ClassifyCall],
		},
		{
			name:        ToolMarkReplied,
			description: "Mark the contact as having replied. Cancels any pending follow-up, flags all sent emails as replied and moves the contact to the Replied stage.",
			schema: object(map[string]any{
				"reason": str("Why the contact counts as replied"),
			}, "reason"),
			decode: decodeInto[MarkRepliedCall],
		},
		{
			name:        ToolFollowUp,
			description: "Schedule a follow-up with the contact on the given date.",
			schema: object(map[string]any{
				"follow_up_date": date,
				"reason":         str("Why the follow-up is needed"),
			}, "follow_up_date", "reason"),
			decode: decodeFollowUp,
		},
		{
			name:        ToolFunnelStage,
			description: "Move the contact to a funnel stage in their campaign. The stage is created if it does not exist.",
			schema: object(map[string]any{
				"stage_name": stage,
			}, "stage_name"),
			decode: decodeInto[FunnelStageCall],
		},
		{
			name:        ToolFollowUpRules,
			description: "Get the rules for when and how to schedule follow-ups.",
			schema:      object(map[string]any{}),
			decode:      decodeInto[FollowUpRulesCall],
		},
	}
}

func newToolset() (*toolset, error) {
	ts := &toolset{byName: make(map[string]tool)}
	c := jsonschema.NewCompiler()

	defs := toolDefinitions()
	raw := make(map[string][]byte, len(defs))
	for _, d := range defs {
		b, err := json.Marshal(d.schema)
		if err != nil {
			return nil, fmt.Errorf("encode %s schema: %w", d.name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("decode %s schema: %w", d.name, err)
		}
		if err := c.AddResource(schemaURL(d.name), doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", d.name, err)
		}
		raw[d.name] = b
	}

	for _, d := range defs {
		sch, err := c.Compile(schemaURL(d.name))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", d.name, err)
		}
		spec := ToolSpec{Name: d.name, Description: d.description, InputSchema: raw[d.name]}
		ts.byName[d.name] = tool{spec: spec, schema: sch, decode: d.decode}
		ts.specs = append(ts.specs, spec)
	}
	return ts, nil
}

func schemaURL(name string) string {
	return "mem://tools/" + name + ".json"
}

// decode maps a tool_use block to its Call variant.
func (ts *toolset) decode(name string, input json.RawMessage) Call {
	t, ok := ts.byName[name]
	if !ok {
		return UnknownCall{Name: name}
	}
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage("{}")
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return InvalidCall{Name: name, Err: err}
	}
	if err := t.schema.Validate(inst); err != nil {
		return InvalidCall{Name: name, Err: err}
	}

	call, err := t.decode(input)
	if err != nil {
		return InvalidCall{Name: name, Err: err}
	}
	return call
}
