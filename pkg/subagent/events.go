// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package subagent

import (
	"time"

	"github.com/teradata-labs/warp/pkg/types"
)

// updateThrottle bounds how often onUpdate fires.
const updateThrottle = 100 * time.Millisecond

// ToolCall is one tool invocation observed in the child's event log.
type ToolCall struct {
	ID      string
	Name    string
	Done    bool
	IsError bool
}

// Progress is a point-in-time snapshot of a running child agent, passed to
// the caller's update callback.
type Progress struct {
	// AgentName identifies the child
	AgentName string

	// Text is the assistant text accumulated for the in-flight message
	Text string

	// Thinking is the reasoning text accumulated for the in-flight message
	Thinking string

	// LiveTools lists currently executing tools
	LiveTools []ToolCall

	// ToolsSeen lists every tool invocation so far, in start order
	ToolsSeen []ToolCall

	// Usage sums token usage across completed messages
	Usage types.Usage
}

// UpdateFunc receives throttled progress snapshots. May be nil.
type UpdateFunc func(Progress)

// collector folds the child's NDJSON event log into an AgentResult. It is
// driven from a single goroutine; no locking.
type collector struct {
	agentName  string
	onUpdate   UpdateFunc
	lastUpdate time.Time

	messages   []types.Message
	usage      types.Usage
	stopReason string

	text     string
	thinking string
	live     map[string]*ToolCall
	seen     []*ToolCall
}

func newCollector(agentName string, onUpdate UpdateFunc) *collector {
	return &collector{
		agentName: agentName,
		onUpdate:  onUpdate,
		live:      make(map[string]*ToolCall),
	}
}

// handle consumes one event. Unknown event types are ignored.
func (c *collector) handle(ev types.AgentEvent) {
	switch ev.Type {
	case types.EventMessageUpdate:
		if ev.Message != nil && ev.Message.Role == types.RoleAssistant {
			c.text, c.thinking = messageTexts(ev.Message)
		}

	case types.EventMessageEnd:
		if ev.Message == nil {
			break
		}
		c.messages = append(c.messages, *ev.Message)
		if ev.Message.Role == types.RoleAssistant {
			if ev.Message.Usage != nil {
				c.usage.Add(*ev.Message.Usage)
			}
			c.text, c.thinking = "", ""
			for id, call := range c.live {
				if call.Done {
					delete(c.live, id)
				}
			}
		}

	case types.EventToolExecutionStart:
		call := &ToolCall{ID: ev.ID, Name: ev.Name}
		c.live[ev.ID] = call
		c.seen = append(c.seen, call)

	case types.EventToolExecutionEnd:
		if call, ok := c.live[ev.ID]; ok {
			call.Done = true
			call.IsError = ev.IsError
		}

	case types.EventToolResultEnd:
		if ev.Message != nil {
			c.messages = append(c.messages, *ev.Message)
		}

	case types.EventAgentEnd:
		c.stopReason = ev.StopReason
	}

	c.maybeUpdate(false)
}

// maybeUpdate fires the callback, at most once per throttle window unless
// forced.
func (c *collector) maybeUpdate(force bool) {
	if c.onUpdate == nil {
		return
	}
	now := time.Now()
	if !force && now.Sub(c.lastUpdate) < updateThrottle {
		return
	}
	c.lastUpdate = now
	c.onUpdate(c.snapshot())
}

func (c *collector) snapshot() Progress {
	p := Progress{
		AgentName: c.agentName,
		Text:      c.text,
		Thinking:  c.thinking,
		Usage:     c.usage,
	}
	for _, call := range c.seen {
		p.ToolsSeen = append(p.ToolsSeen, *call)
		if _, ok := c.live[call.ID]; ok {
			p.LiveTools = append(p.LiveTools, *call)
		}
	}
	return p
}

// messageTexts flattens a message's text and thinking blocks.
func messageTexts(msg *types.Message) (text, thinking string) {
	for _, block := range msg.Content {
		switch block.Type {
		case types.BlockText:
			text += block.Text
		case types.BlockThinking:
			thinking += block.Thinking
		}
	}
	return text, thinking
}
