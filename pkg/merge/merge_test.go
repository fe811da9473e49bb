// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap/zaptest"
)

// mockProvider replays scripted responses.
type mockProvider struct {
	responses []*types.LLMResponse
	err       error
	calls     int
}

func (m *mockProvider) Chat(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.ChatOptions) (*types.LLMResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.calls >= len(m.responses) {
		return &types.LLMResponse{Content: "done", StopReason: "end_turn"}, nil
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func (m *mockProvider) Name() string  { return "mock" }
func (m *mockProvider) Model() string { return "mock-1" }

func ptr(f float64) *float64 { return &f }

func reviewFindings() []types.Finding {
	return []types.Finding{
		{
			ID: "alpha-1", AgentName: "alpha", Severity: types.SeverityHigh,
			Category: types.CategorySecurity, File: "db/query.go",
			Line: &types.LineRange{Start: 10, End: 14}, Title: "SQL injection in buildQuery",
			Description: "concatenated user input", Confidence: ptr(0.9),
		},
		{
			ID: "beta-1", AgentName: "beta", Severity: types.SeverityCritical,
			Category: types.CategorySecurity, File: "db/query.go",
			Line: &types.LineRange{Start: 12, End: 12}, Title: "user input reaches SQL string",
			Description: "same concatenation", Confidence: ptr(0.8),
		},
		{
			ID: "alpha-2", AgentName: "alpha", Severity: types.SeverityLow,
			Category: types.CategoryStyle, File: "db/conn.go", Title: "unused variable retries",
			Description: "retries is never read", Confidence: ptr(0.4),
		},
	}
}

func collectPhases(opts *Options) *[]Phase {
	var phases []Phase
	opts.OnProgress = func(p Phase) { phases = append(phases, p) }
	return &phases
}

func TestRegistryBypassesUnknownStrategy(t *testing.T) {
	r := NewRegistry()
	findings := reviewFindings()
	opts := Options{Logger: zaptest.NewLogger(t)}
	phases := collectPhases(&opts)

	out, err := r.Execute(context.Background(), "no-such-strategy", findings, opts)
	require.NoError(t, err)
	assert.Equal(t, findings, out.Findings)
	assert.Empty(t, out.Clusters)
	assert.Empty(t, out.Summary)
	assert.Empty(t, *phases)
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"heuristic", "llm", "noop"}, r.Names())
}

func TestNoopEmitsEveryPhase(t *testing.T) {
	r := NewRegistry()
	findings := reviewFindings()
	opts := Options{Logger: zaptest.NewLogger(t)}
	phases := collectPhases(&opts)

	out, err := r.Execute(context.Background(), "noop", findings, opts)
	require.NoError(t, err)
	assert.Equal(t, findings, out.Findings)
	assert.Equal(t, Phases, *phases)
}

func TestNoopHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&noopStrategy{}).Execute(ctx, reviewFindings(), Options{Logger: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeuristicClustersByLocation(t *testing.T) {
	opts := Options{Logger: zaptest.NewLogger(t)}
	phases := collectPhases(&opts)

	out, err := (&heuristicStrategy{}).Execute(context.Background(), reviewFindings(), opts)
	require.NoError(t, err)
	assert.Equal(t, Phases, *phases)

	// alpha-1 and beta-1 overlap in db/query.go; alpha-2 stands alone.
	require.Len(t, out.Clusters, 2)
	injection := out.Clusters[0]
	assert.ElementsMatch(t, []string{"alpha-1", "beta-1"}, injection.FindingIDs)
	assert.Equal(t, types.SeverityCritical, injection.Severity)
	assert.Equal(t, []string{"alpha-2"}, out.Clusters[1].FindingIDs)
	assert.NotEmpty(t, out.Summary)
}

func TestHeuristicRanksBySeverityThenConfidence(t *testing.T) {
	out, err := (&heuristicStrategy{}).Execute(context.Background(), reviewFindings(), Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.Len(t, out.Findings, 3)
	assert.Equal(t, "beta-1", out.Findings[0].ID)
	assert.Equal(t, "alpha-1", out.Findings[1].ID)
	assert.Equal(t, "alpha-2", out.Findings[2].ID)
}

func TestHeuristicDropsEmptyFindings(t *testing.T) {
	findings := append(reviewFindings(), types.Finding{ID: "alpha-3", AgentName: "alpha"})
	out, err := (&heuristicStrategy{}).Execute(context.Background(), findings, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Len(t, out.Findings, 3)
}

func TestTitleSimilar(t *testing.T) {
	assert.True(t, titleSimilar("SQL injection in buildQuery", "sql injection in buildquery path"))
	assert.True(t, titleSimilar("Unsafe Query", "unsafe query"))
	assert.False(t, titleSimilar("SQL injection", "unused variable retries"))
	assert.False(t, titleSimilar("", "anything"))
	// short titles must not fuzzy-match long unrelated ones
	assert.False(t, titleSimilar("bug", "a very long unrelated title about graphs"))
}

func TestVerifyAgainstWorkingTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "db"), 0o755))
	source := "package db\n\nfunc buildQuery(name string) string {\n\treturn \"SELECT * FROM users WHERE name = '\" + name + \"'\"\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db", "query.go"), []byte(source), 0o644))

	findings := []types.Finding{
		{
			ID: "a-1", Title: "SQL injection", Severity: types.SeverityHigh,
			File: "db/query.go", Line: &types.LineRange{Start: 4, End: 4},
			CodeSnippet: `return "SELECT * FROM users WHERE name = '" + name + "'"`,
		},
		{
			ID: "a-2", Title: "phantom issue", Severity: types.SeverityHigh,
			File: "db/missing.go", Description: "cites a file that does not exist",
		},
		{
			ID: "a-3", Title: "line out of range", Severity: types.SeverityLow,
			File: "db/query.go", Line: &types.LineRange{Start: 900, End: 900},
			Description: "cites a line past EOF",
		},
	}
	opts := Options{WorkDir: dir, Logger: zaptest.NewLogger(t)}
	out, err := (&heuristicStrategy{}).Execute(context.Background(), findings, opts)
	require.NoError(t, err)

	byID := make(map[string]types.Finding)
	for _, f := range out.Findings {
		byID[f.ID] = f
	}
	assert.True(t, byID["a-1"].Verified)
	assert.False(t, byID["a-2"].Verified)
	assert.False(t, byID["a-3"].Verified)
}

func TestVerifyRefusesPathEscape(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("token"), 0o600))
	t.Cleanup(func() { _ = os.Remove(outside) })

	lines := readFileLines(dir, "../secret.txt", zaptest.NewLogger(t))
	assert.Nil(t, lines)
}

func TestLLMStrategyUsesAgentClusters(t *testing.T) {
	provider := &mockProvider{responses: []*types.LLMResponse{{
		Content: `Here is the result:
{"clusters": [{"title": "SQL injection via buildQuery", "findingIds": ["alpha-1", "beta-1", "ghost-9"]}], "summary": "One real injection issue."}`,
		StopReason: "end_turn",
	}}}
	opts := Options{Provider: provider, Logger: zaptest.NewLogger(t)}
	phases := collectPhases(&opts)

	out, err := (&llmStrategy{}).Execute(context.Background(), reviewFindings(), opts)
	require.NoError(t, err)
	assert.Equal(t, Phases, *phases)
	assert.Equal(t, "One real injection issue.", out.Summary)

	require.Len(t, out.Clusters, 2)
	// the agent cluster, with the invented id dropped
	assert.Equal(t, "SQL injection via buildQuery", out.Clusters[0].Title)
	assert.ElementsMatch(t, []string{"alpha-1", "beta-1"}, out.Clusters[0].FindingIDs)
	assert.Equal(t, types.SeverityCritical, out.Clusters[0].Severity)
	// the unplaced finding becomes a singleton
	assert.Equal(t, []string{"alpha-2"}, out.Clusters[1].FindingIDs)
}

func TestLLMStrategyFallsBackOnProviderError(t *testing.T) {
	provider := &mockProvider{err: errors.New("api down")}
	opts := Options{Provider: provider, Logger: zaptest.NewLogger(t)}
	phases := collectPhases(&opts)

	out, err := (&llmStrategy{}).Execute(context.Background(), reviewFindings(), opts)
	require.NoError(t, err)
	assert.Equal(t, Phases, *phases)
	// heuristic fallback still clusters the overlapping findings
	require.Len(t, out.Clusters, 2)
	assert.NotEmpty(t, out.Summary)
}

func TestLLMStrategyFallsBackOnGarbageOutput(t *testing.T) {
	provider := &mockProvider{responses: []*types.LLMResponse{{
		Content: "I could not produce JSON, sorry.", StopReason: "end_turn",
	}}}
	out, err := (&llmStrategy{}).Execute(context.Background(), reviewFindings(), Options{
		Provider: provider, Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Len(t, out.Clusters, 2)
}

func TestBuildMergeTaskBudget(t *testing.T) {
	findings := reviewFindings()
	task, budgeted := buildMergeTask(findings, zaptest.NewLogger(t))
	assert.Contains(t, task, "alpha-1")
	assert.Len(t, budgeted, 3)
}

func TestExtractJSON(t *testing.T) {
	parsed, err := extractJSON("```json\n{\"clusters\": [], \"summary\": \"s\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "s", parsed.Summary)

	_, err = extractJSON("no json here")
	assert.Error(t, err)
}

func TestDigestEmpty(t *testing.T) {
	assert.Equal(t, "No findings.", digest(nil, nil))
}
