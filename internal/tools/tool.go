package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"basegraph.app/companion/common/llm"
)

// ErrUnknownTool is returned when the model calls a tool that is not in the set.
var ErrUnknownTool = errors.New("unknown tool")

// OutputToolName is the reserved tool a research agent calls with its result.
const OutputToolName = "output"

// Spec describes a tool to the model.
type Spec struct {
	Name             string
	Description      string
	Parameters       any
	ApprovalRequired bool
}

func (s Spec) Definition() llm.Tool {
	return llm.Tool{Name: s.Name, Description: s.Description, Parameters: s.Parameters}
}

// Tool is either an ActionTool or a TerminalTool.
type Tool interface {
	Spec() Spec
	isTool()
}

// ActionTool performs work and returns a string result for the model.
type ActionTool struct {
	spec    Spec
	execute func(ctx context.Context, args string) (string, error)
	preview func(args string) string
}

func (t ActionTool) Spec() Spec { return t.spec }
func (ActionTool) isTool()      {}

func (t ActionTool) Execute(ctx context.Context, args string) (string, error) {
	return t.execute(ctx, args)
}

// Preview renders what the tool is about to do, for approval prompts and display.
func (t ActionTool) Preview(args string) string {
	if t.preview == nil {
		return ""
	}
	return t.preview(args)
}

// TerminalTool has no action; calling it ends the loop with its arguments.
type TerminalTool struct {
	spec Spec
}

func (t TerminalTool) Spec() Spec { return t.spec }
func (TerminalTool) isTool()      {}

func NewAction(spec Spec, execute func(ctx context.Context, args string) (string, error), preview func(args string) string) ActionTool {
	return ActionTool{spec: spec, execute: execute, preview: preview}
}

// Output returns the terminal tool whose parameters are the given result schema.
func Output(schema any) TerminalTool {
	return TerminalTool{spec: Spec{
		Name:        OutputToolName,
		Description: "Submit the final result. Call this once you have gathered enough information.",
		Parameters:  schema,
	}}
}

// Set is an ordered collection of tools with unique names.
type Set struct {
	order  []string
	byName map[string]Tool
}

func NewSet(tools ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		s.Add(t)
	}
	return s
}

// Add registers t, replacing any tool with the same name in place.
func (s *Set) Add(t Tool) {
	name := t.Spec().Name
	if _, exists := s.byName[name]; !exists {
		s.order = append(s.order, name)
	}
	s.byName[name] = t
}

func (s *Set) Get(name string) (Tool, error) {
	t, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// Definitions returns every tool's model-facing definition in registration order.
func (s *Set) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.byName[name].Spec().Definition())
	}
	return defs
}

// Only returns the definition of the named tool alone.
func (s *Set) Only(name string) ([]llm.Tool, error) {
	t, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return []llm.Tool{t.Spec().Definition()}, nil
}

// PlanStep is embedded by tool arguments that may complete plan steps.
type PlanStep struct {
	TaskPlanStepID int `json:"taskPlanStepId,omitempty" jsonschema_description:"1-based id of the task plan step this call completes, if any"`
}

// PlanStepID extracts taskPlanStepId from raw tool arguments.
func PlanStepID(args string) (int, bool) {
	var p PlanStep
	if err := json.Unmarshal([]byte(args), &p); err != nil || p.TaskPlanStepID <= 0 {
		return 0, false
	}
	return p.TaskPlanStepID, true
}
