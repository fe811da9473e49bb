// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/warp/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "test-session")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleFindings(agent string, n int) []types.Finding {
	conf := 0.8
	out := make([]types.Finding, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.Finding{
			ID:          agent + "-" + string(rune('1'+i)),
			AgentName:   agent,
			Severity:    types.SeverityHigh,
			Category:    types.CategorySecurity,
			File:        "pkg/db/query.go",
			Line:        &types.LineRange{Start: 10 + i, End: 12 + i},
			Title:       "unsafe query",
			Description: "concatenated SQL",
			Confidence:  &conf,
			References:  []string{"CWE-89"},
		})
	}
	return out
}

func TestDBPathLayout(t *testing.T) {
	path, err := DBPath("/data", "my-session-id-1234567890")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, filepath.FromSlash("/data/team-executions/")))
	assert.True(t, strings.HasSuffix(path, "team.db"))
	// prefix is sanitized and capped at 20 chars
	dir := filepath.Base(filepath.Dir(path))
	parts := strings.SplitN(dir, "_", 2)
	require.Len(t, parts, 2)
	assert.LessOrEqual(t, len(parts[0]), 20)
	assert.Len(t, parts[1], 16)
}

func TestDBPathSanitizesHostileSessionID(t *testing.T) {
	path, err := DBPath("/data", "../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, filepath.FromSlash("/data/team-executions/")))
	assert.NotContains(t, path, "..")
}

func TestDBPathStableForSameSession(t *testing.T) {
	a, err := DBPath("/data", "session-a")
	require.NoError(t, err)
	b, err := DBPath("/data", "session-a")
	require.NoError(t, err)
	c, err := DBPath("/data", "session-b")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestExecutionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateExecution(ctx, "sess", "review-team", "Review file X", 3)
	require.NoError(t, err)

	exec, err := s.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionPending, exec.Status)
	assert.Equal(t, 3, exec.AgentCount)
	assert.Nil(t, exec.CompletedAt)

	require.NoError(t, s.UpdateExecutionStatus(ctx, id, ExecutionRunning, ""))
	require.NoError(t, s.UpdateExecutionStatus(ctx, id, ExecutionMerging, ""))
	require.NoError(t, s.UpdateExecutionStatus(ctx, id, ExecutionCompleted, ""))

	exec, err = s.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)
}

func TestGetLatestAndIncompleteExecutions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateExecution(ctx, "sess", "team-a", "task 1", 1)
	require.NoError(t, err)
	second, err := s.CreateExecution(ctx, "sess", "team-a", "task 2", 1)
	require.NoError(t, err)
	_, err = s.CreateExecution(ctx, "sess", "team-b", "task 3", 1)
	require.NoError(t, err)

	require.NoError(t, s.UpdateExecutionStatus(ctx, first, ExecutionCompleted, ""))

	latest, err := s.GetLatestExecution(ctx, "sess", "team-a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second, latest.ID)

	none, err := s.GetLatestExecution(ctx, "sess", "no-such-team")
	require.NoError(t, err)
	assert.Nil(t, none)

	incomplete, err := s.GetIncompleteExecutions(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, incomplete, 2)
	assert.Equal(t, second, incomplete[0].ID)
}

func TestAgentResultRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, err := s.CreateExecution(ctx, "sess", "team", "task", 1)
	require.NoError(t, err)
	agentID, err := s.CreateAgentResult(ctx, execID, "reviewer")
	require.NoError(t, err)

	findings := sampleFindings("reviewer", 2)
	messages := []types.Message{
		types.TextMessage(types.RoleUser, "task"),
		types.TextMessage(types.RoleAssistant, "### Finding: unsafe query\n"),
	}
	status := AgentCompleted
	duration := int64(1234)
	usage := types.Usage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.01}
	require.NoError(t, s.UpdateAgentResult(ctx, agentID, AgentResultUpdate{
		Status:     &status,
		Findings:   findings,
		Messages:   messages,
		Usage:      &usage,
		DurationMs: &duration,
	}))

	results, err := s.GetAgentResults(ctx, execID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, AgentCompleted, r.Status)
	assert.Equal(t, int64(1234), r.DurationMs)
	assert.Equal(t, usage, r.Usage)
	require.Len(t, r.Messages, 2)
	assert.Equal(t, "task", r.Messages[0].Text())

	// byte-identical findings after reconstruction
	want, err := json.Marshal(findings)
	require.NoError(t, err)
	got, err := json.Marshal(r.Findings)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateAgentResultPartial(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, _ := s.CreateExecution(ctx, "sess", "team", "task", 1)
	agentID, _ := s.CreateAgentResult(ctx, execID, "a")

	running := AgentRunning
	require.NoError(t, s.UpdateAgentResult(ctx, agentID, AgentResultUpdate{Status: &running}))
	require.NoError(t, s.UpdateAgentResult(ctx, agentID, AgentResultUpdate{Findings: sampleFindings("a", 1)}))

	results, err := s.GetAgentResults(ctx, execID)
	require.NoError(t, err)
	// status survived the findings-only update
	assert.Equal(t, AgentRunning, results[0].Status)
	assert.Len(t, results[0].Findings, 1)
	assert.False(t, results[0].UpdatedAt.Before(results[0].CreatedAt))
}

func TestAppendFindings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, _ := s.CreateExecution(ctx, "sess", "team", "task", 1)
	agentID, _ := s.CreateAgentResult(ctx, execID, "a")

	require.NoError(t, s.AppendFindings(ctx, agentID, sampleFindings("a", 1)))
	require.NoError(t, s.AppendFindings(ctx, agentID, sampleFindings("a", 2)))
	require.NoError(t, s.AppendFindings(ctx, agentID, nil))

	results, err := s.GetAgentResults(ctx, execID)
	require.NoError(t, err)
	assert.Len(t, results[0].Findings, 3)
}

func TestMergeSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, _ := s.CreateExecution(ctx, "sess", "team", "task", 1)

	parseID, err := s.CreateMergeSnapshot(ctx, execID, PhaseParsing, []byte(`{"count":3}`))
	require.NoError(t, err)
	require.NoError(t, s.UpdateMergeSnapshot(ctx, parseID, []byte(`{"phase":"clustering"}`)))
	_, err = s.CreateMergeSnapshot(ctx, execID, PhaseClustering, []byte(`{"count":3}`))
	require.NoError(t, err)

	snaps, err := s.GetMergeSnapshots(ctx, execID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, PhaseParsing, snaps[0].Phase)
	assert.JSONEq(t, `{"phase":"clustering"}`, string(snaps[0].OutputData))
	assert.Nil(t, snaps[1].OutputData)
}

func TestGetCompleteTeamResultFromSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, _ := s.CreateExecution(ctx, "sess", "review-team", "task", 2)
	for _, name := range []string{"alpha", "beta"} {
		agentID, _ := s.CreateAgentResult(ctx, execID, name)
		status := AgentCompleted
		usage := types.Usage{InputTokens: 10, OutputTokens: 5}
		require.NoError(t, s.UpdateAgentResult(ctx, agentID, AgentResultUpdate{
			Status: &status, Usage: &usage, Findings: sampleFindings(name, 1),
		}))
	}

	merged := types.MergeOutput{
		Findings: sampleFindings("alpha", 1),
		Clusters: []types.FindingCluster{{ID: "cluster-1", Title: "unsafe query", FindingIDs: []string{"alpha-1"}, Severity: types.SeverityHigh}},
		Summary:  "one real issue",
	}
	data, err := json.Marshal(merged)
	require.NoError(t, err)
	snapID, _ := s.CreateMergeSnapshot(ctx, execID, PhaseCompleted, nil)
	require.NoError(t, s.UpdateMergeSnapshot(ctx, snapID, data))
	require.NoError(t, s.UpdateExecutionStatus(ctx, execID, ExecutionCompleted, ""))

	result, err := s.GetCompleteTeamResult(ctx, execID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "review-team", result.TeamName)
	assert.Equal(t, "one real issue", result.Summary)
	assert.Len(t, result.Findings, 1)
	assert.Len(t, result.Clusters, 1)
	assert.Equal(t, 20, result.TotalUsage.InputTokens)
	assert.Equal(t, 10, result.TotalUsage.OutputTokens)
}

func TestGetCompleteTeamResultFallback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, _ := s.CreateExecution(ctx, "sess", "team", "task", 2)
	for _, name := range []string{"alpha", "beta"} {
		agentID, _ := s.CreateAgentResult(ctx, execID, name)
		status := AgentCompleted
		require.NoError(t, s.UpdateAgentResult(ctx, agentID, AgentResultUpdate{
			Status: &status, Findings: sampleFindings(name, 1),
		}))
	}
	// A snapshot without output data is not usable.
	_, err := s.CreateMergeSnapshot(ctx, execID, PhaseSynthesizing, nil)
	require.NoError(t, err)

	result, err := s.GetCompleteTeamResult(ctx, execID)
	require.NoError(t, err)
	assert.Len(t, result.Findings, 2)
	assert.Empty(t, result.Summary)
}

func TestPersistenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "sess")
	require.NoError(t, err)
	ctx := context.Background()

	execID, _ := s.CreateExecution(ctx, "sess", "team", "task", 1)
	agentID, _ := s.CreateAgentResult(ctx, execID, "a")
	status := AgentCompleted
	usage := types.Usage{InputTokens: 7, OutputTokens: 3}
	require.NoError(t, s.UpdateAgentResult(ctx, agentID, AgentResultUpdate{
		Status: &status, Usage: &usage, Findings: sampleFindings("a", 1),
	}))
	require.NoError(t, s.UpdateExecutionStatus(ctx, execID, ExecutionCompleted, ""))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, "sess")
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	result, err := reopened.GetCompleteTeamResult(ctx, execID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Findings, 1)
	assert.Equal(t, 10, result.TotalUsage.InputTokens+result.TotalUsage.OutputTokens)
}

func TestCascadeDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, _ := s.CreateExecution(ctx, "sess", "team", "task", 1)
	agentID, _ := s.CreateAgentResult(ctx, execID, "a")
	require.NoError(t, s.AppendFindings(ctx, agentID, sampleFindings("a", 1)))
	_, err := s.CreateMergeSnapshot(ctx, execID, PhaseParsing, nil)
	require.NoError(t, err)

	removed, err := s.PruneOldExecutions(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// A newer execution pushes the old one out.
	_, err = s.CreateExecution(ctx, "sess", "team", "task 2", 1)
	require.NoError(t, err)
	removed, err = s.PruneOldExecutions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	results, err := s.GetAgentResults(ctx, execID)
	require.NoError(t, err)
	assert.Empty(t, results)
	snaps, err := s.GetMergeSnapshots(ctx, execID)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestPruneKeepsPerTeam(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.CreateExecution(ctx, "sess", "team-a", "task", 1)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := s.CreateExecution(ctx, "sess", "team-b", "task", 1)
		require.NoError(t, err)
	}

	removed, err := s.PruneOldExecutions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed) // 3 from team-a, 1 from team-b
}

func TestMessageCompressionRoundTrip(t *testing.T) {
	big := strings.Repeat("the same analysis text over and over. ", 500)
	messages := []types.Message{types.TextMessage(types.RoleAssistant, big)}

	blob, err := encodeMessages(messages)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(blob), string(blobMagic)))
	// repetitive text compresses well
	raw, _ := json.Marshal(messages)
	assert.Less(t, len(blob), len(raw)/2)

	decoded, err := decodeMessages(blob)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, big, decoded[0].Text())
}

func TestSmallMessagesStayPlainJSON(t *testing.T) {
	messages := []types.Message{types.TextMessage(types.RoleUser, "short")}
	blob, err := encodeMessages(messages)
	require.NoError(t, err)
	assert.True(t, json.Valid(blob))
}
