// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package merge turns the raw findings of a team run into a single verified
// result: related findings are clustered, checked against the working tree,
// ranked and summarized. Strategies are pluggable by name; an unknown
// strategy name bypasses merging entirely.
package merge

import (
	"context"
	"sort"
	"sync"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// Phase is one stage of a merge. Every strategy walks the phases in order so
// the engine can persist a snapshot at each transition.
type Phase string

// Merge phases, in execution order.
const (
	PhaseParsing      Phase = "parsing"
	PhaseClustering   Phase = "clustering"
	PhaseVerifying    Phase = "verifying"
	PhaseRanking      Phase = "ranking"
	PhaseSynthesizing Phase = "synthesizing"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseParsing, PhaseClustering, PhaseVerifying, PhaseRanking, PhaseSynthesizing}

// Options carry everything a strategy may need beyond the findings.
type Options struct {
	// MergeAgent is the preset for strategies that spawn an LLM merge agent
	MergeAgent *types.AgentPreset

	// Registry supplies tools to a merge agent
	Registry *tools.Registry

	// WorkDir is the root the verify phase resolves cited files against;
	// empty disables source verification
	WorkDir string

	// KeyResolver resolves provider API keys; nil reads the environment
	KeyResolver llm.KeyResolver

	// Provider overrides factory construction of the merge agent's provider
	Provider types.LLMProvider

	// OnEvent receives agent events from strategies that run a merge agent
	OnEvent func(types.AgentEvent)

	// OnProgress is called at every phase transition
	OnProgress func(Phase)

	Logger *zap.Logger
}

func (o *Options) progress(p Phase) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o *Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Logger()
}

// Strategy merges a set of findings into a final output.
type Strategy interface {
	// Name returns the registration name
	Name() string

	// Execute runs the merge. Implementations must call opts.OnProgress at
	// every phase transition, in order.
	Execute(ctx context.Context, findings []types.Finding, opts Options) (*types.MergeOutput, error)
}

// Registry dispatches merge strategies by name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry pre-loaded with the built-in strategies
// (noop, heuristic, llm).
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(&noopStrategy{})
	r.Register(&heuristicStrategy{})
	r.Register(&llmStrategy{})
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the named strategy, or nil.
func (r *Registry) Get(name string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategies[name]
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches to the named strategy. An unregistered name bypasses
// merging: the raw findings come back unchanged and no phases are emitted.
func (r *Registry) Execute(ctx context.Context, name string, findings []types.Finding, opts Options) (*types.MergeOutput, error) {
	s := r.Get(name)
	if s == nil {
		opts.logger().Debug("no merge strategy registered, bypassing",
			zap.String("strategy", name),
			zap.Int("findings", len(findings)))
		return &types.MergeOutput{Findings: findings}, nil
	}
	return s.Execute(ctx, findings, opts)
}
