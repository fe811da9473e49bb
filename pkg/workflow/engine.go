// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/stream"
	"github.com/teradata-labs/warp/pkg/subagent"
	"github.com/teradata-labs/warp/pkg/team"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// EventType discriminates workflow events.
type EventType string

// Workflow event types.
const (
	EventWorkflowStart    EventType = "workflow_start"
	EventStepStart        EventType = "step_start"
	EventStepSkip         EventType = "step_skip"
	EventStepComplete     EventType = "step_complete"
	EventStepError        EventType = "step_error"
	EventBranch           EventType = "branch"
	EventCheckpoint       EventType = "checkpoint"
	EventWorkflowComplete EventType = "workflow_complete"
)

// Event is one entry in a workflow run's event stream.
type Event struct {
	// Type discriminates the variant
	Type EventType `json:"type"`

	// WorkflowName is set on workflow_start
	WorkflowName string `json:"workflowName,omitempty"`

	// StepID identifies the step for step_* variants
	StepID string `json:"stepId,omitempty"`

	// Reason explains a skip (step_skip)
	Reason string `json:"reason,omitempty"`

	// Err carries the failure message (step_error)
	Err string `json:"error,omitempty"`

	// Chosen lists the branch taken (branch)
	Chosen []string `json:"chosen,omitempty"`

	// StepResult is set on step_complete and step_error
	StepResult *StepResult `json:"stepResult,omitempty"`

	// Result is the final workflow result (workflow_complete)
	Result *Result `json:"result,omitempty"`
}

// StepStatus is the outcome of one step.
type StepStatus string

// Step outcomes.
const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one step's outcome.
type StepResult struct {
	// StepID identifies the step
	StepID string `json:"stepId"`

	// Status of the step
	Status StepStatus `json:"status"`

	// Reason explains a skip
	Reason string `json:"reason,omitempty"`

	// Err describes a failure
	Err string `json:"error,omitempty"`

	// Output is the step's final text (agent and team steps)
	Output string `json:"output,omitempty"`

	// FindingCount across the step's agents
	FindingCount int `json:"findingCount,omitempty"`

	// AgentResults for agent and parallel steps
	AgentResults []types.AgentResult `json:"agentResults,omitempty"`

	// TeamResult for team steps
	TeamResult *types.TeamResult `json:"teamResult,omitempty"`
}

// Result is the outcome of a whole workflow run.
type Result struct {
	// WorkflowName identifies the workflow
	WorkflowName string `json:"workflowName"`

	// Success is true when no step failed
	Success bool `json:"success"`

	// Error describes a run-level failure
	Error string `json:"error,omitempty"`

	// Steps holds every step's outcome, in execution order
	Steps []StepResult `json:"steps"`

	// Context is the final shared context
	Context Context `json:"context"`

	// DurationMs is the wall-clock run time
	DurationMs int64 `json:"durationMs"`
}

// AgentRunner executes one agent step.
type AgentRunner func(ctx context.Context, preset types.AgentPreset, task string) (*types.AgentResult, error)

// TeamRunner executes one team step.
type TeamRunner func(ctx context.Context, cfg team.Config, task string) (*types.TeamResult, error)

// EngineConfig wires a workflow engine.
type EngineConfig struct {
	// Definition is the workflow to run
	Definition Definition

	// RunAgent executes agent and parallel steps; nil spawns subagent
	// child processes
	RunAgent AgentRunner

	// RunTeam executes team steps; nil uses an in-process team engine
	RunTeam TeamRunner

	// SkipDecisions records explicit user decisions: step id -> skip
	SkipDecisions map[string]bool

	// UserChoices answers user-type conditions: field -> choice
	UserChoices map[string]bool

	Logger *zap.Logger
}

// Engine runs one workflow definition.
type Engine struct {
	def       Definition
	runAgent  AgentRunner
	runTeam   TeamRunner
	skips     map[string]bool
	choices   map[string]bool
	logger    *zap.Logger
}

// NewEngine creates a workflow engine. The definition is validated on Run.
func NewEngine(config EngineConfig) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = log.Logger()
	}
	runAgent := config.RunAgent
	if runAgent == nil {
		runAgent = func(ctx context.Context, preset types.AgentPreset, task string) (*types.AgentResult, error) {
			runner, err := subagent.New(subagent.Config{Logger: logger})
			if err != nil {
				return nil, err
			}
			return runner.RunSingle(ctx, subagent.Task{Agent: preset, Task: task}, nil)
		}
	}
	runTeam := config.RunTeam
	if runTeam == nil {
		runTeam = func(ctx context.Context, cfg team.Config, task string) (*types.TeamResult, error) {
			return team.NewEngine(team.EngineConfig{Team: cfg, Logger: logger}).Execute(ctx, task)
		}
	}
	return &Engine{
		def:      config.Definition,
		runAgent: runAgent,
		runTeam:  runTeam,
		skips:    config.SkipDecisions,
		choices:  config.UserChoices,
		logger:   logger,
	}
}

// Run validates and starts the workflow, returning its event stream. The
// stream terminates with exactly one workflow_complete event.
func (e *Engine) Run(ctx context.Context, wctx Context) *stream.Stream[Event, *Result] {
	s := stream.New(
		func(ev Event) bool { return ev.Type == EventWorkflowComplete },
		func(ev Event) *Result { return ev.Result },
	)
	go e.execute(ctx, wctx, s)
	return s
}

// Execute runs the workflow to completion, discarding intermediate events.
func (e *Engine) Execute(ctx context.Context, wctx Context) (*Result, error) {
	return e.Run(ctx, wctx).Result(ctx)
}

func (e *Engine) execute(ctx context.Context, wctx Context, s *stream.Stream[Event, *Result]) {
	start := time.Now()
	if wctx == nil {
		wctx = make(Context)
	}
	result := &Result{WorkflowName: e.def.Name, Success: true, Context: wctx}

	finish := func(errMsg string) {
		if errMsg != "" {
			result.Success = false
			result.Error = errMsg
		}
		result.DurationMs = time.Since(start).Milliseconds()
		s.Push(Event{Type: EventWorkflowComplete, Result: result})
	}

	if err := e.def.Validate(); err != nil {
		finish(err.Error())
		return
	}
	s.Push(Event{Type: EventWorkflowStart, WorkflowName: e.def.Name})

	// Steps that are branch targets run only when a conditional enables
	// them.
	branchTargets := make(map[string]bool)
	for _, step := range e.def.Steps {
		for _, id := range append(append([]string{}, step.Then...), step.Else...) {
			branchTargets[id] = true
		}
	}
	enabled := make(map[string]bool)

	outcomes := make(map[string]*StepResult)
	var prior *StepResult

	for _, id := range e.def.executionOrder() {
		if ctx.Err() != nil {
			finish("aborted")
			return
		}
		step := e.def.step(id)

		if reason := e.skipReason(step, branchTargets, enabled, outcomes); reason != "" {
			sr := StepResult{StepID: id, Status: StepSkipped, Reason: reason}
			outcomes[id] = &sr
			result.Steps = append(result.Steps, sr)
			s.Push(Event{Type: EventStepSkip, StepID: id, Reason: reason})
			continue
		}

		s.Push(Event{Type: EventStepStart, StepID: id})
		sr := e.runStep(ctx, step, wctx, prior, enabled, s)
		outcomes[id] = sr
		result.Steps = append(result.Steps, *sr)
		prior = sr

		switch sr.Status {
		case StepFailed:
			result.Success = false
			s.Push(Event{Type: EventStepError, StepID: id, Err: sr.Err, StepResult: sr})
		default:
			// Declared writes reach the context only on success.
			for key, value := range step.Writes {
				wctx[key] = strings.ReplaceAll(value, "{output}", sr.Output)
			}
			s.Push(Event{Type: EventStepComplete, StepID: id, StepResult: sr})
		}
	}

	finish("")
}

// skipReason decides whether a step is skipped, and why. Precedence: user
// decision, skipped or failed dependency, branch gating, skipByDefault.
func (e *Engine) skipReason(step *Step, branchTargets, enabled map[string]bool, outcomes map[string]*StepResult) string {
	if decided, ok := e.skips[step.ID]; ok {
		if decided {
			return "Skipped by user"
		}
		return ""
	}
	for _, dep := range step.DependsOn {
		if out := outcomes[dep]; out != nil {
			if out.Status == StepSkipped {
				return fmt.Sprintf("Dependency '%s' was skipped", dep)
			}
			if out.Status == StepFailed {
				return fmt.Sprintf("Dependency '%s' failed", dep)
			}
		}
	}
	if branchTargets[step.ID] && !enabled[step.ID] {
		return "Not selected by branch"
	}
	if step.SkipByDefault {
		return "Skipped by default"
	}
	return ""
}

// runStep executes one non-skipped step.
func (e *Engine) runStep(ctx context.Context, step *Step, wctx Context, prior *StepResult, enabled map[string]bool, s *stream.Stream[Event, *Result]) *StepResult {
	sr := &StepResult{StepID: step.ID, Status: StepCompleted}

	switch step.Type {
	case StepCheckpoint:
		s.Push(Event{Type: EventCheckpoint, StepID: step.ID})

	case StepConditional:
		chosen := step.Else
		if step.Condition.evaluate(wctx, prior, e.choices) {
			chosen = step.Then
		}
		for _, id := range chosen {
			enabled[id] = true
		}
		s.Push(Event{Type: EventBranch, StepID: step.ID, Chosen: chosen})

	case StepAgent:
		if step.Agent == nil {
			sr.Status = StepFailed
			sr.Err = fmt.Sprintf("agent step %q has no agent", step.ID)
			break
		}
		res, err := e.runAgent(ctx, *step.Agent, step.Task)
		if res != nil {
			sr.AgentResults = []types.AgentResult{*res}
			sr.Output = res.FinalText()
			sr.FindingCount = len(res.Findings)
		}
		if err != nil || res == nil || !res.Success {
			sr.Status = StepFailed
			sr.Err = stepError(res, err)
		}

	case StepParallel:
		results := make([]*types.AgentResult, len(step.Agents))
		errs := make([]error, len(step.Agents))
		var wg sync.WaitGroup
		for i, preset := range step.Agents {
			wg.Add(1)
			go func(i int, preset types.AgentPreset) {
				defer wg.Done()
				results[i], errs[i] = e.runAgent(ctx, preset, step.Task)
			}(i, preset)
		}
		wg.Wait()
		var texts []string
		for i, res := range results {
			if res != nil {
				sr.AgentResults = append(sr.AgentResults, *res)
				sr.FindingCount += len(res.Findings)
				texts = append(texts, res.FinalText())
			}
			if errs[i] != nil || res == nil || !res.Success {
				sr.Status = StepFailed
				sr.Err = stepError(res, errs[i])
			}
		}
		sr.Output = strings.Join(texts, "\n")

	case StepTeam:
		cfg := e.teamConfig(step)
		res, err := e.runTeam(ctx, cfg, step.Task)
		if res != nil {
			sr.TeamResult = res
			sr.Output = res.Summary
			sr.FindingCount = len(res.Findings)
		}
		if err != nil || res == nil || !res.Success {
			sr.Status = StepFailed
			if err != nil {
				sr.Err = err.Error()
			} else if res != nil {
				sr.Err = res.Error
			}
		}

	default:
		sr.Status = StepFailed
		sr.Err = fmt.Sprintf("unknown step type %q", step.Type)
	}
	return sr
}

// teamConfig builds the team for a team step: an explicit config wins, else
// the step's agents with a pass-through merge.
func (e *Engine) teamConfig(step *Step) team.Config {
	if step.Team != nil {
		return *step.Team
	}
	return team.Config{
		Name:   step.ID,
		Agents: step.Agents,
		Merge:  team.MergeConfig{Strategy: "noop"},
	}
}

func stepError(res *types.AgentResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if res != nil && res.Error != "" {
		return res.Error
	}
	return "agent failed"
}
