// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package team orchestrates a set of agents against one task: dispatch
// (parallel or sequential) with retries, event streaming, merge of the
// collected findings, and persistence of every phase so a crashed run can
// be reconstructed from the store.
package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/agent"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/merge"
	"github.com/teradata-labs/warp/pkg/store"
	"github.com/teradata-labs/warp/pkg/stream"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// DefaultMaxRetries is the per-agent retry budget when the config leaves it
// unset.
const DefaultMaxRetries = 1

// Strategy names for agent dispatch.
const (
	StrategyParallel   = "parallel"
	StrategySequential = "sequential"
)

// MergeConfig selects and parameterizes the merge strategy.
type MergeConfig struct {
	// Strategy names the registered merge strategy
	Strategy string `json:"strategy" yaml:"strategy"`

	// MergeAgent is the preset for LLM-backed strategies (optional)
	MergeAgent *types.AgentPreset `json:"mergeAgent,omitempty" yaml:"merge_agent,omitempty"`
}

// Config defines a team.
type Config struct {
	// Name of the team
	Name string `json:"name" yaml:"name"`

	// Agents run against the task, in order
	Agents []types.AgentPreset `json:"agents" yaml:"agents"`

	// Strategy is parallel (default) or sequential
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	// Merge selects the merge strategy
	Merge MergeConfig `json:"merge" yaml:"merge"`

	// MaxRetries per agent; nil means 1
	MaxRetries *int `json:"maxRetries,omitempty" yaml:"max_retries,omitempty"`

	// ContinueOnError keeps the team running past a failed agent; nil means
	// true
	ContinueOnError *bool `json:"continueOnError,omitempty" yaml:"continue_on_error,omitempty"`
}

func (c Config) maxRetries() int {
	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

func (c Config) continueOnError() bool {
	return c.ContinueOnError == nil || *c.ContinueOnError
}

func (c Config) strategy() string {
	if c.Strategy == StrategySequential {
		return StrategySequential
	}
	return StrategyParallel
}

// ProviderFactory builds the LLM provider for a preset.
type ProviderFactory func(preset types.AgentPreset) (types.LLMProvider, error)

// EngineConfig wires an Engine.
type EngineConfig struct {
	// Team is the team definition
	Team Config

	// Store persists the run; nil disables persistence
	Store *store.Store

	// Registry supplies agent tools
	Registry *tools.Registry

	// Merges dispatches merge strategies; nil uses the built-ins
	Merges *merge.Registry

	// Provider overrides provider construction (tests); nil uses the
	// factory registry and environment credentials
	Provider ProviderFactory

	// SessionID scopes persisted executions
	SessionID string

	// WorkDir is the tree findings are verified against
	WorkDir string

	// TaskToolPrefix identifies the task-manager tool family
	TaskToolPrefix string

	Logger *zap.Logger
}

// Engine runs one team. An Engine is reusable across runs; Abort cancels
// the in-flight run.
type Engine struct {
	config         Config
	store          *store.Store
	registry       *tools.Registry
	merges         *merge.Registry
	provider       ProviderFactory
	sessionID      string
	workDir        string
	taskToolPrefix string
	logger         *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewEngine creates a team engine.
func NewEngine(config EngineConfig) *Engine {
	provider := config.Provider
	if provider == nil {
		provider = func(preset types.AgentPreset) (types.LLMProvider, error) {
			name := preset.Provider
			if name == "" {
				name = "anthropic"
			}
			return llm.NewProvider(name, preset.Model)
		}
	}
	merges := config.Merges
	if merges == nil {
		merges = merge.NewRegistry()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Logger()
	}
	return &Engine{
		config:         config.Team,
		store:          config.Store,
		registry:       config.Registry,
		merges:         merges,
		provider:       provider,
		sessionID:      config.SessionID,
		workDir:        config.WorkDir,
		taskToolPrefix: config.TaskToolPrefix,
		logger:         logger,
	}
}

// Run starts the team and returns its event stream. The stream terminates
// with exactly one team_end event carrying the TeamResult.
func (e *Engine) Run(ctx context.Context, task string) *stream.Stream[Event, *types.TeamResult] {
	s := stream.New(
		func(ev Event) bool { return ev.Type == EventTeamEnd },
		func(ev Event) *types.TeamResult { return ev.Result },
	)

	// Caller context and engine abort compose: either cancels the run.
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		defer cancel()
		e.orchestrate(runCtx, task, s)
	}()
	return s
}

// Execute runs the team to completion, discarding intermediate events.
func (e *Engine) Execute(ctx context.Context, task string) (*types.TeamResult, error) {
	return e.Run(ctx, task).Result(ctx)
}

// Abort cancels the in-flight run. The stream still terminates with a
// team_end event.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// orchestrate drives one run start to finish. It always pushes a terminal
// team_end, whatever goes wrong.
func (e *Engine) orchestrate(ctx context.Context, task string, s *stream.Stream[Event, *types.TeamResult]) {
	start := time.Now()
	p := newPersister(e.store, e.logger, e.sessionID, e.config.Name, task, len(e.config.Agents))

	s.Push(Event{Type: EventTeamStart, TeamName: e.config.Name, Task: task})
	p.setStatus(store.ExecutionRunning, "")

	results, fatal := e.runAgents(ctx, task, s, p)

	result := &types.TeamResult{
		TeamName:     e.config.Name,
		AgentResults: results,
	}
	for _, r := range results {
		result.TotalUsage.Add(r.Usage)
		if r.Success {
			result.Success = true
		}
	}

	finish := func(status store.ExecutionStatus, errMsg string) {
		result.DurationMs = time.Since(start).Milliseconds()
		result.Error = errMsg
		p.setStatus(status, errMsg)
		s.Push(Event{Type: EventTeamEnd, Result: result})
	}

	if ctx.Err() != nil {
		result.Success = false
		finish(store.ExecutionAborted, "aborted")
		return
	}
	if fatal != nil {
		result.Success = false
		finish(store.ExecutionFailed, fatal.Error())
		return
	}

	// All agents done: merge.
	p.setStatus(store.ExecutionMerging, "")
	var findings []types.Finding
	for _, r := range results {
		findings = append(findings, r.Findings...)
	}
	s.Push(Event{Type: EventMergeStart, FindingCount: len(findings)})

	output, err := e.runMerge(ctx, findings, s, p)
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil):
		result.Success = false
		finish(store.ExecutionAborted, "aborted")
		return
	case err != nil:
		result.Success = false
		finish(store.ExecutionFailed, fmt.Sprintf("merge failed: %v", err))
		return
	}

	result.Findings = output.Findings
	result.Clusters = output.Clusters
	result.Summary = output.Summary
	p.mergeCompleted(output)

	s.Push(Event{Type: EventMergeEnd})
	if result.Success {
		finish(store.ExecutionCompleted, "")
	} else {
		finish(store.ExecutionFailed, "no agent succeeded")
	}
}

// runAgents dispatches every agent per the configured strategy. A non-nil
// fatal error means a failed agent with continueOnError=false.
func (e *Engine) runAgents(ctx context.Context, task string, s *stream.Stream[Event, *types.TeamResult], p *persister) ([]types.AgentResult, error) {
	results := make([]types.AgentResult, len(e.config.Agents))

	if e.config.strategy() == StrategySequential {
		for i, preset := range e.config.Agents {
			results[i] = e.runAgent(ctx, preset, task, s, p)
			if ctx.Err() != nil {
				return results[:i+1], nil
			}
			if !results[i].Success && !e.config.continueOnError() {
				return results[:i+1], fmt.Errorf("agent %s failed: %s", preset.Name, results[i].Error)
			}
		}
		return results, nil
	}

	var wg sync.WaitGroup
	for i, preset := range e.config.Agents {
		wg.Add(1)
		go func(i int, preset types.AgentPreset) {
			defer wg.Done()
			results[i] = e.runAgent(ctx, preset, task, s, p)
		}(i, preset)
	}
	wg.Wait()

	if !e.config.continueOnError() {
		for _, r := range results {
			if !r.Success && r.Error != "aborted" {
				return results, fmt.Errorf("agent %s failed: %s", r.AgentName, r.Error)
			}
		}
	}
	return results, nil
}

// runAgent executes one agent with the retry loop. The returned result is
// always populated; failures after retry exhaustion come back as a failed
// result.
func (e *Engine) runAgent(ctx context.Context, preset types.AgentPreset, task string, s *stream.Stream[Event, *types.TeamResult], p *persister) types.AgentResult {
	p.agentDispatched(preset.Name)
	s.Push(Event{Type: EventAgentStart, AgentName: preset.Name})
	p.agentStatus(preset.Name, store.AgentRunning)

	tracker := newTaskTracker(e.taskToolPrefix)
	emit := func(ev types.AgentEvent) {
		s.Push(Event{Type: EventAgentEvent, AgentName: preset.Name, AgentEvent: &ev})
		if progress, changed := tracker.observe(ev); changed {
			s.Push(Event{Type: EventAgentTaskUpdate, AgentName: preset.Name, TaskProgress: &progress})
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.maxRetries(); attempt++ {
		if ctx.Err() != nil {
			break
		}
		if attempt > 0 {
			s.Push(Event{Type: EventAgentRetry, AgentName: preset.Name, Attempt: attempt})
			p.agentStatus(preset.Name, store.AgentRetrying)
			e.logger.Debug("retrying agent",
				zap.String("agent", preset.Name),
				zap.Int("attempt", attempt))
		}

		provider, err := e.provider(preset)
		if err != nil {
			// Provider construction failure is a configuration problem, not
			// a transient one.
			lastErr = err
			s.Push(Event{Type: EventAgentError, AgentName: preset.Name, Err: err.Error()})
			break
		}

		a := agent.New(agent.Config{
			Preset:   preset,
			Provider: provider,
			Registry: e.registry,
			Logger:   e.logger,
		})
		result, err := a.Run(ctx, task, emit)
		if err == nil {
			p.agentFinished(result)
			s.Push(Event{Type: EventAgentEnd, AgentName: preset.Name, AgentResult: result})
			return *result
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			aborted := types.AgentResult{AgentName: preset.Name, Error: "aborted"}
			if result != nil {
				aborted = *result
				aborted.Success = false
				aborted.Error = "aborted"
			}
			p.agentFinished(&aborted)
			s.Push(Event{Type: EventAgentEnd, AgentName: preset.Name, AgentResult: &aborted})
			return aborted
		}
		lastErr = err
		if result != nil {
			// The loop produced a result and still errored (e.g. turn budget
			// exhausted): a fatal agent error, not a transient one.
			s.Push(Event{Type: EventAgentError, AgentName: preset.Name, Err: err.Error()})
			break
		}
		s.Push(Event{
			Type:      EventAgentError,
			AgentName: preset.Name,
			Err:       err.Error(),
			WillRetry: attempt < e.config.maxRetries(),
		})
	}

	failed := types.AgentResult{AgentName: preset.Name, Error: "unknown failure"}
	if lastErr != nil {
		failed.Error = lastErr.Error()
	} else if ctx.Err() != nil {
		failed.Error = "aborted"
	}
	p.agentFinished(&failed)
	s.Push(Event{Type: EventAgentEnd, AgentName: preset.Name, AgentResult: &failed})
	return failed
}

// runMerge executes the configured merge strategy, persisting a snapshot at
// every phase transition.
func (e *Engine) runMerge(ctx context.Context, findings []types.Finding, s *stream.Stream[Event, *types.TeamResult], p *persister) (*types.MergeOutput, error) {
	inputData, err := json.Marshal(findings)
	if err != nil {
		inputData = nil
	}
	first := true

	opts := merge.Options{
		MergeAgent: e.config.Merge.MergeAgent,
		Registry:   e.registry,
		WorkDir:    e.workDir,
		Logger:     e.logger,
		OnProgress: func(phase merge.Phase) {
			data := []byte(nil)
			if first {
				data, first = inputData, false
			}
			p.phaseTransition(phase, data)
			s.Push(Event{Type: EventMergeProgress, Phase: phase})
		},
		OnEvent: func(ev types.AgentEvent) {
			s.Push(Event{Type: EventMergeEvent, AgentEvent: &ev})
		},
	}
	if e.config.Merge.MergeAgent != nil {
		if provider, err := e.provider(*e.config.Merge.MergeAgent); err == nil {
			opts.Provider = provider
		}
	}

	return e.merges.Execute(ctx, e.config.Merge.Strategy, findings, opts)
}
