// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package agent runs one agent loop in-process: LLM calls interleaved with
// tool executions until the model stops asking for tools. Subprocess
// execution of the same loop lives in pkg/subagent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/finding"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// DefaultMaxTurns bounds the LLM/tool loop.
const DefaultMaxTurns = 50

// ErrMaxTurns is returned when the loop exhausts its turn budget without the
// model stopping.
var ErrMaxTurns = errors.New("agent exceeded max turns")

// EmitFunc receives agent events as they are produced. May be nil.
type EmitFunc func(types.AgentEvent)

// Agent executes one preset against a task.
type Agent struct {
	preset    types.AgentPreset
	provider  types.LLMProvider
	registry  *tools.Registry
	lifecycle *Lifecycle
	maxTurns  int
	logger    *zap.Logger
}

// Config configures an Agent.
type Config struct {
	Preset   types.AgentPreset
	Provider types.LLMProvider

	// Registry supplies tools; nil runs the agent without tools
	Registry *tools.Registry

	// Lifecycle hooks (optional)
	Lifecycle *Lifecycle

	// MaxTurns overrides DefaultMaxTurns when > 0
	MaxTurns int

	Logger *zap.Logger
}

// New creates an agent.
func New(config Config) *Agent {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	if config.Logger == nil {
		config.Logger = log.Logger()
	}
	if config.Registry == nil {
		config.Registry = tools.NewRegistry()
	}
	return &Agent{
		preset:    config.Preset,
		provider:  config.Provider,
		registry:  config.Registry,
		lifecycle: config.Lifecycle,
		maxTurns:  config.MaxTurns,
		logger:    config.Logger,
	}
}

// Preset returns the agent's preset.
func (a *Agent) Preset() types.AgentPreset { return a.preset }

// Run executes the loop for one task. Events are emitted in production
// order. The returned result is always non-nil on success=false paths that
// did not originate from ctx cancellation.
func (a *Agent) Run(ctx context.Context, task string, emit EmitFunc) (*types.AgentResult, error) {
	if emit == nil {
		emit = func(types.AgentEvent) {}
	}
	start := time.Now()

	prompt := a.preset.SystemPrompt
	var messages []types.Message
	if a.lifecycle != nil {
		a.lifecycle.OnSessionStart()
		defer a.lifecycle.OnSessionShutdown()
		var injected *types.Message
		prompt, injected = a.lifecycle.OnBeforeAgentStart(prompt)
		if injected != nil {
			messages = append(messages, *injected)
		}
	}
	messages = append(messages, types.TextMessage(types.RoleUser, task))

	selected := a.registry.Select(a.preset.Tools)
	specs := make([]types.ToolSpec, 0, len(selected))
	for _, t := range selected {
		specs = append(specs, types.ToolSpec{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	byName := make(map[string]tools.Tool, len(selected))
	for _, t := range selected {
		byName[t.Name()] = t
	}

	result := &types.AgentResult{AgentName: a.preset.Name}
	opts := types.ChatOptions{
		SystemPrompt: prompt,
		Temperature:  a.preset.Temperature,
		MaxTokens:    a.preset.MaxTokens,
		Thinking:     a.preset.Thinking,
	}

	for turn := 0; turn < a.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return a.finish(result, messages, start, emit, "aborted", "aborted")
		}

		resp, err := a.provider.Chat(ctx, messages, specs, opts)
		if err != nil {
			if ctx.Err() != nil {
				return a.finish(result, messages, start, emit, "aborted", "aborted")
			}
			a.logger.Debug("LLM call failed",
				zap.String("agent", a.preset.Name),
				zap.Error(err))
			return nil, fmt.Errorf("agent %s: LLM call: %w", a.preset.Name, err)
		}

		assistant := assistantMessage(resp)
		messages = append(messages, assistant)
		result.Usage.Add(resp.Usage)
		emit(types.AgentEvent{Type: types.EventMessageEnd, Message: &assistant})

		if len(resp.ToolCalls) == 0 {
			return a.finish(result, messages, start, emit, "stop", "")
		}

		toolResult := types.Message{Role: types.RoleToolResult, Timestamp: time.Now().UnixMilli()}
		for _, call := range resp.ToolCalls {
			block, err := a.executeTool(ctx, byName, call, emit)
			if err != nil {
				// Cancellation mid-tool surfaces as an aborted run.
				if ctx.Err() != nil {
					return a.finish(result, messages, start, emit, "aborted", "aborted")
				}
				block = types.ContentBlock{
					Type:      types.BlockToolResult,
					ToolUseID: call.ID,
					Text:      err.Error(),
					IsError:   true,
				}
			}
			toolResult.Content = append(toolResult.Content, block)
		}
		messages = append(messages, toolResult)
		emit(types.AgentEvent{Type: types.EventToolResultEnd, Message: &toolResult})
	}

	result.Error = ErrMaxTurns.Error()
	_, err := a.finish(result, messages, start, emit, "error", result.Error)
	return result, err
}

// executeTool runs one tool call with validation and emits its start/end
// events.
func (a *Agent) executeTool(ctx context.Context, byName map[string]tools.Tool, call types.ContentBlock, emit EmitFunc) (types.ContentBlock, error) {
	emit(types.AgentEvent{Type: types.EventToolExecutionStart, ID: call.ID, Name: call.Name, Args: call.Input})
	if a.lifecycle != nil {
		a.lifecycle.OnToolCall(call.Name)
	}

	tool, ok := byName[call.Name]
	var res *tools.Result
	var err error
	if !ok {
		err = fmt.Errorf("unknown tool %q", call.Name)
	} else if err = tools.ValidateParams(tool, call.Input); err == nil {
		res, err = tool.Execute(ctx, call.ID, call.Input, nil)
	}

	isError := err != nil || (res != nil && res.IsError)
	text := ""
	if res != nil {
		text = res.Text()
	}
	if err != nil {
		text = err.Error()
	}
	emit(types.AgentEvent{Type: types.EventToolExecutionEnd, ID: call.ID, IsError: isError, Result: text})
	if a.lifecycle != nil {
		a.lifecycle.OnToolResult(call.Name, isError)
	}
	if err != nil && ctx.Err() != nil {
		return types.ContentBlock{}, err
	}

	return types.ContentBlock{
		Type:      types.BlockToolResult,
		ToolUseID: call.ID,
		Text:      text,
		IsError:   isError,
	}, nil
}

// finish assembles the result, parses findings and emits agent_end.
func (a *Agent) finish(result *types.AgentResult, messages []types.Message, start time.Time, emit EmitFunc, stopReason, errMsg string) (*types.AgentResult, error) {
	result.Messages = messages
	result.DurationMs = time.Since(start).Milliseconds()
	result.Success = stopReason == "stop"
	if errMsg != "" {
		result.Error = errMsg
	}
	if result.Success {
		result.Findings = finding.Parse(a.preset.Name, messages)
	}
	emit(types.AgentEvent{Type: types.EventAgentEnd, StopReason: stopReason})

	switch stopReason {
	case "aborted":
		return result, context.Canceled
	case "error":
		return result, errors.New(errMsg)
	}
	return result, nil
}

// assistantMessage converts an LLM response into a transcript message.
func assistantMessage(resp *types.LLMResponse) types.Message {
	msg := types.Message{Role: types.RoleAssistant, Timestamp: time.Now().UnixMilli()}
	if resp.Thinking != "" {
		msg.Content = append(msg.Content, types.ContentBlock{Type: types.BlockThinking, Thinking: resp.Thinking})
	}
	if resp.Content != "" {
		msg.Content = append(msg.Content, types.ContentBlock{Type: types.BlockText, Text: resp.Content})
	}
	msg.Content = append(msg.Content, resp.ToolCalls...)
	usage := resp.Usage
	msg.Usage = &usage
	return msg
}
