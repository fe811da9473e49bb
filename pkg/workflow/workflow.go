// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workflow executes a directed graph of steps (agent runs, teams,
// conditionals, checkpoints) against a shared mutable context. Steps
// declare dependencies; the engine orders them depth-first from the entry,
// skips what should not run, and merges each step's declared writes into
// the context only after the step succeeds.
package workflow

import (
	"fmt"
	"sort"

	"github.com/teradata-labs/warp/pkg/team"
	"github.com/teradata-labs/warp/pkg/types"
)

// StepType discriminates step behavior.
type StepType string

// Step types.
const (
	StepAgent       StepType = "agent"
	StepParallel    StepType = "parallel"
	StepTeam        StepType = "team"
	StepConditional StepType = "conditional"
	StepCheckpoint  StepType = "checkpoint"
)

// Step is one node of a workflow.
type Step struct {
	// ID is unique within the workflow
	ID string `json:"id" yaml:"id"`

	// Name is a human label; defaults to ID
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type selects the behavior
	Type StepType `json:"type" yaml:"type"`

	// Agent is the preset for agent steps
	Agent *types.AgentPreset `json:"agent,omitempty" yaml:"agent,omitempty"`

	// Agents are the presets for parallel and team steps
	Agents []types.AgentPreset `json:"agents,omitempty" yaml:"agents,omitempty"`

	// Team overrides the team configuration built from Agents (team steps)
	Team *team.Config `json:"team,omitempty" yaml:"team,omitempty"`

	// Task is the instruction for agent, parallel and team steps
	Task string `json:"task,omitempty" yaml:"task,omitempty"`

	// DependsOn lists step ids that must complete first
	DependsOn []string `json:"dependsOn,omitempty" yaml:"depends_on,omitempty"`

	// SkipByDefault skips the step unless a user decision enables it
	SkipByDefault bool `json:"skipByDefault,omitempty" yaml:"skip_by_default,omitempty"`

	// Condition gates the branch of a conditional step
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Then and Else name the steps enabled by a conditional's outcome; the
	// unchosen branch is skipped
	Then []string `json:"then,omitempty" yaml:"then,omitempty"`
	Else []string `json:"else,omitempty" yaml:"else,omitempty"`

	// Writes maps context keys to values merged after success. The literal
	// "{output}" is replaced with the step's final text.
	Writes map[string]string `json:"writes,omitempty" yaml:"writes,omitempty"`
}

// Definition is a complete workflow.
type Definition struct {
	// Name of the workflow
	Name string `json:"name" yaml:"name"`

	// Entry is the starting step id
	Entry string `json:"entry" yaml:"entry"`

	// Exits are the step ids that conclude the workflow (informational)
	Exits []string `json:"exits,omitempty" yaml:"exits,omitempty"`

	// Steps in definition order
	Steps []Step `json:"steps" yaml:"steps"`
}

// step returns the step with the given id, or nil.
func (d *Definition) step(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// CycleError reports a dependency cycle among steps.
type CycleError struct {
	// Steps in the cycle, sorted
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow has a dependency cycle among steps %v", e.Steps)
}

// Validate checks the definition: entry and exits exist, every dependency
// and branch target names an existing step, ids are unique, and the
// dependency graph is acyclic.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow %s has a step without an id", d.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}
	if d.step(d.Entry) == nil {
		return fmt.Errorf("entry step %q does not exist", d.Entry)
	}
	for _, exit := range d.Exits {
		if d.step(exit) == nil {
			return fmt.Errorf("exit step %q does not exist", exit)
		}
	}
	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if d.step(dep) == nil {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
		}
		for _, id := range append(append([]string{}, s.Then...), s.Else...) {
			if d.step(id) == nil {
				return fmt.Errorf("step %q branches to unknown step %q", s.ID, id)
			}
		}
		if s.Type == StepConditional && s.Condition == nil {
			return fmt.Errorf("conditional step %q has no condition", s.ID)
		}
	}
	return d.checkCycles()
}

// checkCycles runs a DFS with a recursion stack over the dependency edges.
func (d *Definition) checkCycles() error {
	const (
		white = 0 // unvisited
		grey  = 1 // on the recursion stack
		black = 2 // done
	)
	color := make(map[string]int, len(d.Steps))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range d.step(id).DependsOn {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case grey:
				// slice the cycle out of the recursion stack
				var cycle []string
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == dep {
						break
					}
				}
				sort.Strings(cycle)
				return &CycleError{Steps: cycle}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, s := range d.Steps {
		if color[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// executionOrder returns every step id: a depth-first traversal from the
// entry that visits dependencies before dependents, then any unreachable
// steps appended in definition order.
func (d *Definition) executionOrder() []string {
	children := make(map[string][]string)
	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			children[dep] = append(children[dep], s.ID)
		}
	}

	visited := make(map[string]bool, len(d.Steps))
	var order []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range d.step(id).DependsOn {
			visit(dep)
		}
		order = append(order, id)
		for _, child := range children[id] {
			visit(child)
		}
	}
	visit(d.Entry)

	for _, s := range d.Steps {
		if !visited[s.ID] {
			visited[s.ID] = true
			order = append(order, s.ID)
		}
	}
	return order
}
