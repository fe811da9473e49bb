// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/teradata-labs/warp/pkg/agent"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// mergeTokenBudget caps how many tokens of serialized findings are handed to
// the merge agent. Findings beyond the budget are dropped from the prompt
// (they still appear in the output, just unclustered).
const mergeTokenBudget = 60000

const defaultMergePrompt = `You are a merge agent. You receive findings produced by
several code-review agents as a JSON array. Group findings that describe the
same underlying issue into clusters and write a short overall summary.

Respond with a single JSON object and nothing else:
{"clusters": [{"title": "...", "findingIds": ["...", "..."]}], "summary": "..."}

Every findingId you reference must come from the input. Do not invent
findings.`

// llmStrategy runs a single merge agent through the standard agent loop to
// cluster and summarize, then verifies and ranks like the heuristic
// strategy. Any agent failure falls back to heuristic clustering so a merge
// never fails the team run.
type llmStrategy struct{}

func (s *llmStrategy) Name() string { return "llm" }

// agentClusters is the JSON shape the merge agent is asked to produce.
type agentClusters struct {
	Clusters []struct {
		Title      string   `json:"title"`
		FindingIDs []string `json:"findingIds"`
	} `json:"clusters"`
	Summary string `json:"summary"`
}

func (s *llmStrategy) Execute(ctx context.Context, findings []types.Finding, opts Options) (*types.MergeOutput, error) {
	logger := opts.logger()

	opts.progress(PhaseParsing)
	kept := dropEmpty(findings)
	prompt, budgeted := buildMergeTask(kept, logger)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.progress(PhaseClustering)
	parsed, summary := s.runMergeAgent(ctx, prompt, opts)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var clusters []types.FindingCluster
	if parsed != nil {
		clusters = resolveClusters(parsed, budgeted, kept)
	}
	if clusters == nil {
		logger.Debug("merge agent unusable, falling back to heuristic clustering")
		clusters = clusterFindings(kept)
		summary = ""
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.progress(PhaseVerifying)
	verifyFindings(kept, opts.WorkDir, logger)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.progress(PhaseRanking)
	rankFindings(kept, clusters)

	opts.progress(PhaseSynthesizing)
	if summary == "" {
		summary = digest(kept, clusters)
	}
	return &types.MergeOutput{Findings: kept, Clusters: clusters, Summary: summary}, nil
}

// runMergeAgent executes one agent run and extracts its JSON answer. Returns
// nil on any failure; the caller falls back to heuristics.
func (s *llmStrategy) runMergeAgent(ctx context.Context, task string, opts Options) (*agentClusters, string) {
	logger := opts.logger()
	preset := types.AgentPreset{
		Name:         "merger",
		SystemPrompt: defaultMergePrompt,
		Provider:     "anthropic",
	}
	registry := opts.Registry
	if opts.MergeAgent != nil {
		preset = *opts.MergeAgent
	} else {
		// The default merge agent reasons over the prompt alone.
		registry = nil
	}

	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = llm.NewProviderWith(opts.KeyResolver, providerName(preset), preset.Model)
		if err != nil {
			logger.Debug("merge agent provider unavailable", zap.Error(err))
			return nil, ""
		}
	}

	a := agent.New(agent.Config{
		Preset:   preset,
		Provider: provider,
		Registry: registry,
		Logger:   logger,
	})
	result, err := a.Run(ctx, task, agent.EmitFunc(opts.OnEvent))
	if err != nil || result == nil || !result.Success {
		logger.Debug("merge agent run failed", zap.Error(err))
		return nil, ""
	}

	parsed, err := extractJSON(result.FinalText())
	if err != nil {
		logger.Debug("merge agent output not parseable", zap.Error(err))
		return nil, ""
	}
	return parsed, parsed.Summary
}

func providerName(preset types.AgentPreset) string {
	if preset.Provider != "" {
		return preset.Provider
	}
	return "anthropic"
}

// buildMergeTask serializes findings into the agent task, dropping findings
// past the token budget. Returns the task and the set of finding ids that
// made it into the prompt.
func buildMergeTask(findings []types.Finding, logger *zap.Logger) (string, map[string]bool) {
	var b strings.Builder
	b.WriteString("Merge these findings:\n[")
	budgeted := make(map[string]bool, len(findings))
	used := tokenCount(defaultMergePrompt)
	dropped := 0
	for _, f := range findings {
		data, err := json.Marshal(f)
		if err != nil {
			continue
		}
		cost := tokenCount(string(data))
		if used+cost > mergeTokenBudget {
			dropped++
			continue
		}
		if len(budgeted) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
		b.Write(data)
		budgeted[f.ID] = true
		used += cost
	}
	b.WriteString("\n]")
	if dropped > 0 {
		logger.Warn("findings dropped from merge prompt by token budget",
			zap.Int("dropped", dropped),
			zap.Int("budget", mergeTokenBudget))
	}
	return b.String(), budgeted
}

// tokenCount counts tokens with the cl100k_base encoding, estimating at four
// bytes per token when the encoding is unavailable (offline cache miss).
func tokenCount(s string) int {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return len(s) / 4
	}
	return len(enc.Encode(s, nil, nil))
}

// resolveClusters validates agent clusters against the real finding set:
// unknown ids are dropped, empty clusters removed, severities recomputed
// from members. Findings the agent never placed (or never saw) become
// single-member clusters. Returns nil when nothing usable remains.
func resolveClusters(parsed *agentClusters, budgeted map[string]bool, findings []types.Finding) []types.FindingCluster {
	byID := make(map[string]types.Finding, len(findings))
	for _, f := range findings {
		byID[f.ID] = f
	}

	clusters := make([]types.FindingCluster, 0, len(parsed.Clusters))
	placed := make(map[string]bool)
	for _, c := range parsed.Clusters {
		cluster := types.FindingCluster{Title: c.Title}
		for _, id := range c.FindingIDs {
			f, ok := byID[id]
			if !ok || placed[id] {
				continue
			}
			placed[id] = true
			cluster.FindingIDs = append(cluster.FindingIDs, id)
			if cluster.Severity == "" || f.Severity.Rank() > cluster.Severity.Rank() {
				cluster.Severity = f.Severity
			}
			if cluster.Title == "" {
				cluster.Title = f.Title
			}
		}
		if len(cluster.FindingIDs) > 0 {
			clusters = append(clusters, cluster)
		}
	}
	if len(clusters) == 0 {
		return nil
	}
	for _, f := range findings {
		if !placed[f.ID] {
			clusters = append(clusters, types.FindingCluster{
				Title:      f.Title,
				FindingIDs: []string{f.ID},
				Severity:   f.Severity,
			})
		}
	}
	for i := range clusters {
		clusters[i].ID = fmt.Sprintf("cluster-%d", i+1)
	}
	return clusters
}

// extractJSON pulls the first JSON object out of the agent's final text,
// tolerating surrounding prose and markdown fences.
func extractJSON(text string) (*agentClusters, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in merge agent output")
	}
	var parsed agentClusters
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse merge agent output: %w", err)
	}
	return &parsed, nil
}
