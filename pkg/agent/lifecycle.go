// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"sync"

	"github.com/teradata-labs/warp/pkg/types"
)

// Hooks customize lifecycle behavior. All fields are optional.
type Hooks struct {
	// SessionStart runs before the first LLM call
	SessionStart func()

	// SessionShutdown runs after the loop ends, on every path
	SessionShutdown func()

	// ToolCall runs before each tool execution
	ToolCall func(toolName string)

	// ToolResult runs after each tool execution
	ToolResult func(toolName string, isError bool)

	// BeforeAgentStart may rewrite the system prompt and inject one message
	// at the head of the transcript
	BeforeAgentStart func(prompt string) (string, *types.Message)
}

// Lifecycle tracks per-session counters and dispatches hooks. It replaces
// process-wide mutable state: each run owns its own Lifecycle, so two
// concurrent sessions never share counters.
type Lifecycle struct {
	mu    sync.Mutex
	hooks Hooks

	turns      int
	toolCalls  int
	toolErrors int
	active     bool
}

// NewLifecycle creates a lifecycle with the given hooks.
func NewLifecycle(hooks Hooks) *Lifecycle {
	return &Lifecycle{hooks: hooks}
}

// OnSessionStart marks the session active.
func (l *Lifecycle) OnSessionStart() {
	l.mu.Lock()
	l.active = true
	l.mu.Unlock()
	if l.hooks.SessionStart != nil {
		l.hooks.SessionStart()
	}
}

// OnSessionShutdown marks the session inactive.
func (l *Lifecycle) OnSessionShutdown() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
	if l.hooks.SessionShutdown != nil {
		l.hooks.SessionShutdown()
	}
}

// OnToolCall counts a tool invocation.
func (l *Lifecycle) OnToolCall(toolName string) {
	l.mu.Lock()
	l.toolCalls++
	l.mu.Unlock()
	if l.hooks.ToolCall != nil {
		l.hooks.ToolCall(toolName)
	}
}

// OnToolResult counts a tool completion.
func (l *Lifecycle) OnToolResult(toolName string, isError bool) {
	l.mu.Lock()
	if isError {
		l.toolErrors++
	}
	l.mu.Unlock()
	if l.hooks.ToolResult != nil {
		l.hooks.ToolResult(toolName, isError)
	}
}

// OnBeforeAgentStart gives hooks a chance to rewrite the prompt and inject
// an opening message.
func (l *Lifecycle) OnBeforeAgentStart(prompt string) (string, *types.Message) {
	l.mu.Lock()
	l.turns++
	l.mu.Unlock()
	if l.hooks.BeforeAgentStart != nil {
		return l.hooks.BeforeAgentStart(prompt)
	}
	return prompt, nil
}

// Stats returns the current counters.
func (l *Lifecycle) Stats() (turns, toolCalls, toolErrors int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.turns, l.toolCalls, l.toolErrors
}
