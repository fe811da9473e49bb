// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package anthropic implements the LLMProvider interface against the
// Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-5"
	// DefaultEndpoint is the default Anthropic API endpoint
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second
	// apiVersion is the anthropic-version header value
	apiVersion = "2023-06-01"
	// maxRetries bounds retry attempts on 429/5xx
	maxRetries = 3
)

// thinkingBudgets maps thinking levels to token budgets.
var thinkingBudgets = map[types.ThinkingLevel]int{
	types.ThinkingMinimal: 1024,
	types.ThinkingLow:     4096,
	types.ThinkingMedium:  10000,
	types.ThinkingHigh:    24000,
	types.ThinkingXHigh:   48000,
}

func init() {
	llm.RegisterFactory("anthropic", func(provider, model, apiKey string) (types.LLMProvider, error) {
		return New(Config{APIKey: apiKey, Model: model}), nil
	})
}

// Client implements types.LLMProvider for Anthropic's Claude API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey   string
	Model    string // Default: claude-sonnet-4-5
	Endpoint string // Default: https://api.anthropic.com/v1/messages
	Timeout  time.Duration
}

// New creates an Anthropic client. ANTHROPIC_BASE_URL overrides the endpoint
// when Config.Endpoint is empty.
func New(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Endpoint == "" {
		if base := os.Getenv("ANTHROPIC_BASE_URL"); base != "" {
			config.Endpoint = base + "/v1/messages"
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:     config.APIKey,
		model:      config.Model,
		endpoint:   config.Endpoint,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns "anthropic".
func (c *Client) Name() string { return "anthropic" }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Wire types for the Messages API.

type apiRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []apiMessage   `json:"messages"`
	Tools       []apiTool      `json:"tools,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Thinking    *apiThinking   `json:"thinking,omitempty"`
}

type apiThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type apiMessage struct {
	Role    string     `json:"role"`
	Content []apiBlock `json:"content"`
}

type apiBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Thinking  string                 `json:"thinking,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type apiResponse struct {
	Content    []apiBlock `json:"content"`
	StopReason string     `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends a conversation to the Messages API and returns the response.
func (c *Client) Chat(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.ChatOptions) (*types.LLMResponse, error) {
	req := apiRequest{
		Model:     c.model,
		MaxTokens: opts.MaxTokens,
		System:    opts.SystemPrompt,
		Messages:  convertMessages(messages),
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	if budget, ok := thinkingBudgets[opts.Thinking]; ok {
		req.Thinking = &apiThinking{Type: "enabled", BudgetTokens: budget}
		// The API requires max_tokens to exceed the thinking budget.
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + DefaultMaxTokens
		}
	}
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		req.Tools = append(req.Tools, apiTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *apiResponse
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		resp, err = c.send(ctx, body)
		if err == nil || attempt >= maxRetries || !isRetryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return nil, err
	}

	out := &types.LLMResponse{
		StopReason: resp.StopReason,
		Usage: types.Usage{
			InputTokens:      resp.Usage.InputTokens,
			OutputTokens:     resp.Usage.OutputTokens,
			CacheReadTokens:  resp.Usage.CacheReadInputTokens,
			CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "thinking":
			out.Thinking += block.Thinking
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, types.ContentBlock{
				Type:  types.BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return out, nil
}

// httpError carries the status code for retry decisions.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("anthropic API error (status %d): %s", e.status, e.message)
}

func isRetryable(err error) bool {
	he, ok := err.(*httpError)
	return ok && (he.status == http.StatusTooManyRequests || he.status >= 500)
}

func (c *Client) send(ctx context.Context, body []byte) (*apiResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, &httpError{status: httpResp.StatusCode, message: string(data)}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		msg := string(data)
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, &httpError{status: httpResp.StatusCode, message: msg}
	}
	return &resp, nil
}

// convertMessages maps transcript messages to the wire format. Tool results
// travel as user messages with tool_result blocks; custom messages collapse
// to plain user text.
func convertMessages(messages []types.Message) []apiMessage {
	out := make([]apiMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleAssistant:
			var blocks []apiBlock
			for _, b := range m.Content {
				switch b.Type {
				case types.BlockText:
					blocks = append(blocks, apiBlock{Type: "text", Text: b.Text})
				case types.BlockThinking:
					blocks = append(blocks, apiBlock{Type: "thinking", Thinking: b.Thinking})
				case types.BlockToolUse:
					blocks = append(blocks, apiBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: b.Input})
				}
			}
			if len(blocks) > 0 {
				out = append(out, apiMessage{Role: "assistant", Content: blocks})
			}
		case types.RoleToolResult:
			var blocks []apiBlock
			for _, b := range m.Content {
				if b.Type == types.BlockToolResult {
					blocks = append(blocks, apiBlock{
						Type:      "tool_result",
						ToolUseID: b.ToolUseID,
						Content:   b.Text,
						IsError:   b.IsError,
					})
				}
			}
			if len(blocks) > 0 {
				out = append(out, apiMessage{Role: "user", Content: blocks})
			}
		default: // user, custom
			if text := m.Text(); text != "" {
				out = append(out, apiMessage{Role: "user", Content: []apiBlock{{Type: "text", Text: text}}})
			}
		}
	}
	return out
}
