// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

// MergeOutput is the contractual schema of a completed merge: the final
// snapshot's output data. Intermediate phase outputs are opaque.
type MergeOutput struct {
	Findings []Finding        `json:"findings"`
	Clusters []FindingCluster `json:"clusters,omitempty"`
	Summary  string           `json:"summary,omitempty"`
}

// TeamResult is the merged outcome of one team run.
type TeamResult struct {
	// TeamName identifies the team
	TeamName string `json:"teamName"`

	// Success is true when at least one agent succeeded
	Success bool `json:"success"`

	// Error describes a run-level failure
	Error string `json:"error,omitempty"`

	// AgentResults holds every agent's outcome, in dispatch order
	AgentResults []AgentResult `json:"agentResults"`

	// Findings is the merged finding list
	Findings []Finding `json:"findings"`

	// Clusters groups related findings (empty when the strategy does not
	// cluster)
	Clusters []FindingCluster `json:"clusters,omitempty"`

	// Summary is the merge synthesis (empty when not synthesized)
	Summary string `json:"summary,omitempty"`

	// TotalUsage aggregates token usage across all agents and the merge
	TotalUsage Usage `json:"totalUsage"`

	// DurationMs is the wall-clock team run time
	DurationMs int64 `json:"durationMs"`
}
