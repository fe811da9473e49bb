// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tools defines the tool interface consumed by the agent loop and
// the registry tools are looked up from. The runtime reads only the text
// content and details of a result; everything else is the tool's concern.
package tools

import (
	"context"
)

// ContentItem is one piece of tool output.
type ContentItem struct {
	// Type is the content type ("text" is the only type the runtime reads)
	Type string `json:"type"`

	// Text contains text content (when Type is "text")
	Text string `json:"text,omitempty"`
}

// Result is the outcome of one tool execution.
type Result struct {
	// Content holds the output items shown to the model
	Content []ContentItem `json:"content"`

	// Details carries structured, tool-specific data (opaque to the runtime)
	Details map[string]interface{} `json:"details,omitempty"`

	// IsError marks a failed execution
	IsError bool `json:"isError,omitempty"`
}

// Text returns the concatenated text items of the result.
func (r *Result) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			out += c.Text
		}
	}
	return out
}

// TextResult builds a single-text-item result.
func TextResult(text string) *Result {
	return &Result{Content: []ContentItem{{Type: "text", Text: text}}}
}

// ErrorResult builds a failed single-text-item result.
func ErrorResult(text string) *Result {
	return &Result{Content: []ContentItem{{Type: "text", Text: text}}, IsError: true}
}

// UpdateFunc reports intermediate progress from a long-running tool.
type UpdateFunc func(text string)

// Tool is one capability an agent can invoke.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for LLM context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() map[string]interface{}

	// Execute runs the tool. callID identifies the invocation; onUpdate may
	// be nil. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, callID string, params map[string]interface{}, onUpdate UpdateFunc) (*Result, error)
}

// Func adapts a plain function into a Tool. Used heavily in tests.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]interface{}
	Fn              func(ctx context.Context, callID string, params map[string]interface{}, onUpdate UpdateFunc) (*Result, error)
}

func (f *Func) Name() string                        { return f.ToolName }
func (f *Func) Description() string                 { return f.ToolDescription }
func (f *Func) InputSchema() map[string]interface{} { return f.Schema }

func (f *Func) Execute(ctx context.Context, callID string, params map[string]interface{}, onUpdate UpdateFunc) (*Result, error) {
	return f.Fn(ctx, callID, params, onUpdate)
}
