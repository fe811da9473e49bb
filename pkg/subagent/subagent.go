// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package subagent runs agents as child processes, each with its own
// context window, streaming NDJSON events back to the parent. Three modes:
// single, parallel (bounded fan-out) and chain (sequential with output
// substitution).
package subagent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultMaxConcurrency is the parallel-mode default.
	DefaultMaxConcurrency = 4

	// maxWorkers is the hard cap on simultaneous children.
	maxWorkers = 8

	// previousPlaceholder in a chain task is replaced with the prior step's
	// final assistant text.
	previousPlaceholder = "{previous}"
)

// Task is one unit of subagent work.
type Task struct {
	// Agent is the preset to run
	Agent types.AgentPreset

	// Task is the instruction text
	Task string

	// Cwd is the child's working directory; empty inherits the parent's
	Cwd string
}

// Runner spawns and supervises subagent child processes.
type Runner struct {
	binary   string
	resolver llm.KeyResolver
	logger   *zap.Logger
}

// Config configures a Runner.
type Config struct {
	// Binary is the executable spawned for each child; empty uses the
	// current executable
	Binary string

	// KeyResolver resolves provider API keys; nil reads the environment
	KeyResolver llm.KeyResolver

	Logger *zap.Logger
}

// New creates a Runner.
func New(config Config) (*Runner, error) {
	binary := config.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		binary = self
	}
	resolver := config.KeyResolver
	if resolver == nil {
		resolver = llm.ResolveKey
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Logger()
	}
	return &Runner{binary: binary, resolver: resolver, logger: logger}, nil
}

// resolve turns a Task into a spawnable childSpec, failing when the
// provider credential cannot be resolved.
func (r *Runner) resolve(t Task) (childSpec, error) {
	provider := t.Agent.Provider
	if provider == "" {
		provider = "anthropic"
	}
	key, err := r.resolver(provider)
	if err != nil {
		return childSpec{}, fmt.Errorf("agent %s: %w", t.Agent.Name, err)
	}
	return childSpec{
		preset:   t.Agent,
		task:     t.Task,
		cwd:      t.Cwd,
		provider: provider,
		apiKey:   key,
	}, nil
}

// RunSingle runs one child to completion.
func (r *Runner) RunSingle(ctx context.Context, t Task, onUpdate UpdateFunc) (*types.AgentResult, error) {
	spec, err := r.resolve(t)
	if err != nil {
		return nil, err
	}
	return r.spawn(ctx, spec, onUpdate)
}

// RunParallel runs tasks with at most min(maxConcurrency, 8, len(tasks))
// children alive at once. Results come back in input order; a failed child
// yields a failed result, not an error. Credentials for every task are
// resolved before the first spawn so a late resolution failure cannot
// orphan running children. onUpdate may be called concurrently from
// different workers.
func (r *Runner) RunParallel(ctx context.Context, tasks []Task, maxConcurrency int, onUpdate UpdateFunc) ([]types.AgentResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	specs := make([]childSpec, len(tasks))
	for i, t := range tasks {
		spec, err := r.resolve(t)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}

	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	workers := maxConcurrency
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	results := make([]types.AgentResult, len(tasks))
	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= len(specs) {
					return
				}
				res, err := r.spawn(ctx, specs[i], onUpdate)
				if res == nil {
					res = &types.AgentResult{AgentName: specs[i].preset.Name, Error: err.Error()}
				}
				results[i] = *res
			}
		}()
	}
	wg.Wait()
	return results, ctx.Err()
}

// RunChain runs tasks sequentially, substituting each task's {previous}
// placeholders with the prior step's final assistant text. The first failure
// halts the chain; results up to and including the failed step are returned
// with an error naming the step.
func (r *Runner) RunChain(ctx context.Context, tasks []Task, onUpdate UpdateFunc) ([]types.AgentResult, error) {
	specs := make([]childSpec, len(tasks))
	for i, t := range tasks {
		spec, err := r.resolve(t)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}

	var results []types.AgentResult
	previous := ""
	for i := range specs {
		specs[i].task = strings.ReplaceAll(specs[i].task, previousPlaceholder, previous)
		res, err := r.spawn(ctx, specs[i], onUpdate)
		if res != nil {
			results = append(results, *res)
		}
		if err != nil {
			return results, fmt.Errorf("chain aborted at step %d (%s): %w", i+1, specs[i].preset.Name, err)
		}
		if !res.Success {
			return results, fmt.Errorf("chain failed at step %d (%s): %s", i+1, specs[i].preset.Name, res.Error)
		}
		previous = res.FinalText()
	}
	return results, nil
}
