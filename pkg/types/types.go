// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the warp runtime.
// This package breaks import cycles by providing common types that
// pkg/agent, pkg/llm, pkg/finding and pkg/team all depend on.
package types

import (
	"context"
	"time"
)

// ============================================================================
// Message Types
// ============================================================================

// Message roles. ToolResult carries the output of a tool execution back to
// the model; Custom is reserved for runtime-injected annotations.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "toolResult"
	RoleCustom     = "custom"
)

// Content block types inside a Message.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock represents one piece of content in a message.
type ContentBlock struct {
	// Type is the block type ("text", "thinking", "tool_use", "tool_result")
	Type string `json:"type"`

	// Text contains text content (when Type is "text")
	Text string `json:"text,omitempty"`

	// Thinking contains model reasoning (when Type is "thinking")
	Thinking string `json:"thinking,omitempty"`

	// ID is the tool call id (when Type is "tool_use")
	ID string `json:"id,omitempty"`

	// Name is the tool name (when Type is "tool_use")
	Name string `json:"name,omitempty"`

	// Input contains the tool parameters (when Type is "tool_use")
	Input map[string]interface{} `json:"input,omitempty"`

	// ToolUseID links a tool_result block to its tool_use block
	ToolUseID string `json:"toolUseId,omitempty"`

	// IsError marks a failed tool_result
	IsError bool `json:"isError,omitempty"`
}

// Message represents a single message in an agent transcript.
type Message struct {
	// Role is the message sender (user, assistant, toolResult, custom)
	Role string `json:"role"`

	// Content holds the message content blocks
	Content []ContentBlock `json:"content"`

	// Usage tracks token usage for assistant messages (nil otherwise)
	Usage *Usage `json:"usage,omitempty"`

	// Timestamp when the message was produced (unix millis; 0 if unknown)
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Text returns the concatenated text blocks of the message.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   []ContentBlock{{Type: BlockText, Text: text}},
		Timestamp: time.Now().UnixMilli(),
	}
}

// ============================================================================
// Usage
// ============================================================================

// Usage tracks LLM token usage and cost.
type Usage struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	CacheReadTokens  int     `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int     `json:"cacheWriteTokens,omitempty"`
	CostUSD          float64 `json:"costUsd,omitempty"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.CostUSD += other.CostUSD
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// ============================================================================
// Findings
// ============================================================================

// Severity classifies how serious a finding is.
type Severity string

// Finding severities, most serious first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ParseSeverity normalizes a severity string. Unrecognized values map to
// SeverityMedium.
func ParseSeverity(s string) Severity {
	switch Severity(normalize(s)) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	case SeverityInfo:
		return SeverityInfo
	}
	return SeverityMedium
}

// Rank returns a sortable weight for the severity (higher is more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// Category classifies what kind of issue a finding describes.
type Category string

// Finding categories.
const (
	CategorySecurity        Category = "security"
	CategoryBug             Category = "bug"
	CategoryPerformance     Category = "performance"
	CategoryStyle           Category = "style"
	CategoryMaintainability Category = "maintainability"
	CategoryOther           Category = "other"
)

// ParseCategory normalizes a category string. Unrecognized values map to
// CategoryOther.
func ParseCategory(s string) Category {
	switch Category(normalize(s)) {
	case CategorySecurity:
		return CategorySecurity
	case CategoryBug:
		return CategoryBug
	case CategoryPerformance:
		return CategoryPerformance
	case CategoryStyle:
		return CategoryStyle
	case CategoryMaintainability:
		return CategoryMaintainability
	case CategoryOther:
		return CategoryOther
	}
	return CategoryOther
}

// LineRange locates a finding within a file. End == Start for a single line.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Finding is a structured observation extracted from an agent transcript.
type Finding struct {
	// ID is unique within a team run: "{agentName}-{index}" (1-based)
	ID string `json:"id"`

	// AgentName identifies the agent that produced the finding
	AgentName string `json:"agentName"`

	// Severity of the issue (defaults to medium when unrecognized)
	Severity Severity `json:"severity"`

	// Category of the issue (defaults to other when unrecognized)
	Category Category `json:"category"`

	// File path the finding refers to (optional)
	File string `json:"file,omitempty"`

	// Line range within File (optional)
	Line *LineRange `json:"line,omitempty"`

	// Title is a one-line summary
	Title string `json:"title"`

	// Description is the full explanation
	Description string `json:"description"`

	// Suggestion is an optional proposed fix
	Suggestion string `json:"suggestion,omitempty"`

	// CodeSnippet is the first fenced code block of the finding (optional)
	CodeSnippet string `json:"codeSnippet,omitempty"`

	// Confidence in [0,1], nil when the agent did not state one
	Confidence *float64 `json:"confidence,omitempty"`

	// References holds normalized reference tokens (e.g. "CWE-79")
	References []string `json:"references,omitempty"`

	// Verified is set by the merge verify phase
	Verified bool `json:"verified,omitempty"`
}

// FindingCluster groups related findings produced by different agents.
type FindingCluster struct {
	// ID identifies the cluster within a merge result
	ID string `json:"id"`

	// Title summarizes the cluster
	Title string `json:"title"`

	// FindingIDs lists the member findings
	FindingIDs []string `json:"findingIds"`

	// Severity is the highest severity among members
	Severity Severity `json:"severity"`
}

// ============================================================================
// Agent Types
// ============================================================================

// ThinkingLevel controls how much extended reasoning the model is asked for.
type ThinkingLevel string

// Thinking levels, in increasing order of budget.
const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// Valid reports whether the level is a known thinking level.
func (t ThinkingLevel) Valid() bool {
	switch t {
	case ThinkingOff, ThinkingMinimal, ThinkingLow, ThinkingMedium, ThinkingHigh, ThinkingXHigh:
		return true
	}
	return false
}

// AgentPreset is an immutable agent definition: prompt, model and tools.
type AgentPreset struct {
	// Name is the unique preset name
	Name string `json:"name" yaml:"name"`

	// Description of what the agent does
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// SystemPrompt for the agent
	SystemPrompt string `json:"systemPrompt" yaml:"system_prompt"`

	// Model reference (provider default when empty)
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Provider name ("anthropic" when empty)
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Temperature for sampling (provider default when 0)
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// MaxTokens per response (provider default when 0)
	MaxTokens int `json:"maxTokens,omitempty" yaml:"max_tokens,omitempty"`

	// Thinking level (off when empty)
	Thinking ThinkingLevel `json:"thinking,omitempty" yaml:"thinking,omitempty"`

	// Tools lists allowed tool names; empty means all registered tools
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// AgentResult is the outcome of one agent execution. Immutable once emitted.
type AgentResult struct {
	// AgentName identifies the agent
	AgentName string `json:"agentName"`

	// Success indicates the agent completed without a fatal error
	Success bool `json:"success"`

	// Error describes the failure when Success is false
	Error string `json:"error,omitempty"`

	// Messages is the ordered transcript
	Messages []Message `json:"messages,omitempty"`

	// Findings parsed from the transcript
	Findings []Finding `json:"findings,omitempty"`

	// DurationMs is the wall-clock execution time
	DurationMs int64 `json:"durationMs"`

	// Usage aggregates token usage across the run
	Usage Usage `json:"usage"`
}

// FinalText returns the text of the last assistant message, or "".
func (r *AgentResult) FinalText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleAssistant {
			return r.Messages[i].Text()
		}
	}
	return ""
}

// ============================================================================
// Agent Events
// ============================================================================

// AgentEventType discriminates AgentEvent variants. The set matches the
// newline-delimited JSON protocol spoken by subagent child processes;
// unknown types are ignored by consumers.
type AgentEventType string

// Agent event types.
const (
	EventMessageUpdate      AgentEventType = "message_update"
	EventMessageEnd         AgentEventType = "message_end"
	EventToolExecutionStart AgentEventType = "tool_execution_start"
	EventToolExecutionEnd   AgentEventType = "tool_execution_end"
	EventToolResultEnd      AgentEventType = "tool_result_end"
	EventAgentEnd           AgentEventType = "agent_end"
)

// AgentEvent is one event in an agent's execution stream.
type AgentEvent struct {
	// Type discriminates the variant
	Type AgentEventType `json:"type"`

	// ID is the tool call id (tool_execution_start / tool_execution_end)
	ID string `json:"id,omitempty"`

	// Name is the tool name (tool_execution_start)
	Name string `json:"name,omitempty"`

	// Args are the tool parameters (tool_execution_start)
	Args map[string]interface{} `json:"args,omitempty"`

	// IsError marks a failed tool execution (tool_execution_end)
	IsError bool `json:"isError,omitempty"`

	// Result carries the tool output text (tool_execution_end)
	Result string `json:"result,omitempty"`

	// Message carries the partial or final message
	// (message_update / message_end / tool_result_end)
	Message *Message `json:"message,omitempty"`

	// StopReason is set on agent_end ("stop", "error", "aborted")
	StopReason string `json:"stopReason,omitempty"`
}

// ============================================================================
// LLM Provider
// ============================================================================

// LLMResponse represents a response from the LLM.
type LLMResponse struct {
	// Content is the text response
	Content string

	// Thinking contains extended reasoning, when requested
	Thinking string

	// ToolCalls contains requested tool executions
	ToolCalls []ContentBlock

	// StopReason indicates why the LLM stopped
	StopReason string

	// Usage tracks token usage for this call
	Usage Usage
}

// ToolSpec describes one tool to the LLM.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ChatOptions tune a single LLM call.
type ChatOptions struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Thinking     ThinkingLevel
}

// LLMProvider defines the interface for LLM providers. The wire protocol,
// token counting and auth are the provider's concern; the runtime only
// consumes this narrow surface.
type LLMProvider interface {
	// Chat sends a conversation to the LLM and returns the response
	Chat(ctx context.Context, messages []Message, tools []ToolSpec, opts ChatOptions) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string
}

func normalize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' || c == '\t' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
