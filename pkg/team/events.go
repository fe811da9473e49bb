// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package team

import (
	"github.com/teradata-labs/warp/pkg/merge"
	"github.com/teradata-labs/warp/pkg/types"
)

// EventType discriminates team events.
type EventType string

// Team event types, in rough lifecycle order.
const (
	EventTeamStart       EventType = "team_start"
	EventAgentStart      EventType = "agent_start"
	EventAgentRetry      EventType = "agent_retry"
	EventAgentEvent      EventType = "agent_event"
	EventAgentTaskUpdate EventType = "agent_task_update"
	EventAgentError      EventType = "agent_error"
	EventAgentEnd        EventType = "agent_end"
	EventMergeStart      EventType = "merge_start"
	EventMergeProgress   EventType = "merge_progress"
	EventMergeEvent      EventType = "merge_event"
	EventMergeEnd        EventType = "merge_end"
	EventTeamEnd         EventType = "team_end"
)

// Event is one entry in a team run's event stream. Fields beyond Type are
// populated per variant.
type Event struct {
	// Type discriminates the variant
	Type EventType `json:"type"`

	// TeamName is set on team_start
	TeamName string `json:"teamName,omitempty"`

	// Task is set on team_start
	Task string `json:"task,omitempty"`

	// AgentName identifies the agent for agent_* variants
	AgentName string `json:"agentName,omitempty"`

	// Attempt is the 1-based retry number (agent_retry)
	Attempt int `json:"attempt,omitempty"`

	// Err carries the failure message (agent_error)
	Err string `json:"error,omitempty"`

	// WillRetry is true when the failed attempt will be retried
	// (agent_error)
	WillRetry bool `json:"willRetry,omitempty"`

	// AgentEvent is the forwarded loop event (agent_event, merge_event)
	AgentEvent *types.AgentEvent `json:"agentEvent,omitempty"`

	// AgentResult is the finished agent's outcome (agent_end)
	AgentResult *types.AgentResult `json:"agentResult,omitempty"`

	// TaskProgress is set on agent_task_update
	TaskProgress *TaskProgress `json:"taskProgress,omitempty"`

	// FindingCount is the aggregate finding count (merge_start)
	FindingCount int `json:"findingCount,omitempty"`

	// Phase is the merge phase (merge_progress)
	Phase merge.Phase `json:"phase,omitempty"`

	// Result is the final team result (team_end)
	Result *types.TeamResult `json:"result,omitempty"`
}
