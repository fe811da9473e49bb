// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// heuristicStrategy merges without an LLM: clusters by location and title
// similarity, verifies cited snippets against the working tree, ranks, and
// synthesizes a deterministic digest.
type heuristicStrategy struct{}

func (s *heuristicStrategy) Name() string { return "heuristic" }

func (s *heuristicStrategy) Execute(ctx context.Context, findings []types.Finding, opts Options) (*types.MergeOutput, error) {
	opts.progress(PhaseParsing)
	kept := dropEmpty(findings)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.progress(PhaseClustering)
	clusters := clusterFindings(kept)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.progress(PhaseVerifying)
	verifyFindings(kept, opts.WorkDir, opts.logger())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts.progress(PhaseRanking)
	rankFindings(kept, clusters)

	opts.progress(PhaseSynthesizing)
	return &types.MergeOutput{
		Findings: kept,
		Clusters: clusters,
		Summary:  digest(kept, clusters),
	}, nil
}

// dropEmpty discards findings with neither a title nor a description.
func dropEmpty(findings []types.Finding) []types.Finding {
	kept := make([]types.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Title == "" && f.Description == "" {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// clusterFindings groups findings greedily: a finding joins the first cluster
// containing a member at the same location (same file, overlapping lines) or
// with a similar title.
func clusterFindings(findings []types.Finding) []types.FindingCluster {
	groups := make([][]types.Finding, 0, len(findings))
next:
	for _, f := range findings {
		for i, group := range groups {
			for _, member := range group {
				if sameLocation(f, member) || titleSimilar(f.Title, member.Title) {
					groups[i] = append(groups[i], f)
					continue next
				}
			}
		}
		groups = append(groups, []types.Finding{f})
	}

	clusters := make([]types.FindingCluster, 0, len(groups))
	for i, group := range groups {
		cluster := types.FindingCluster{
			ID:       fmt.Sprintf("cluster-%d", i+1),
			Title:    group[0].Title,
			Severity: group[0].Severity,
		}
		for _, member := range group {
			cluster.FindingIDs = append(cluster.FindingIDs, member.ID)
			if member.Severity.Rank() > cluster.Severity.Rank() {
				cluster.Severity = member.Severity
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// sameLocation reports whether two findings cite the same file with
// overlapping line ranges.
func sameLocation(a, b types.Finding) bool {
	if a.File == "" || a.File != b.File {
		return false
	}
	if a.Line == nil || b.Line == nil {
		// File-level findings in the same file cluster together.
		return a.Line == nil && b.Line == nil
	}
	return a.Line.Start <= b.Line.End && b.Line.Start <= a.Line.End
}

// titleSimilar reports whether two titles describe the same issue, using a
// fuzzy subsequence match of the shorter title against the longer one.
func titleSimilar(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	// Very short titles fuzzy-match almost anything.
	if len(shorter) < 8 || len(shorter)*10 < len(longer)*6 {
		return false
	}
	return len(fuzzy.Find(shorter, []string{longer})) > 0
}

// verifyFindings checks each finding's cited file and snippet against the
// working tree and sets the Verified flag in place. An empty workDir leaves
// everything unverified.
func verifyFindings(findings []types.Finding, workDir string, logger *zap.Logger) {
	if workDir == "" {
		return
	}
	cache := make(map[string][]string)
	for i := range findings {
		findings[i].Verified = verifyOne(&findings[i], workDir, cache, logger)
	}
}

func verifyOne(f *types.Finding, workDir string, cache map[string][]string, logger *zap.Logger) bool {
	if f.File == "" {
		return false
	}
	lines, ok := cache[f.File]
	if !ok {
		lines = readFileLines(workDir, f.File, logger)
		cache[f.File] = lines
	}
	if lines == nil {
		return false
	}
	if f.Line != nil && f.Line.Start > len(lines) {
		return false
	}
	if strings.TrimSpace(f.CodeSnippet) == "" {
		// Nothing to compare beyond existence and line bounds.
		return true
	}
	region := snippetRegion(lines, f.Line)
	return snippetSimilarity(f.CodeSnippet, region) >= 0.5
}

// readFileLines reads a cited file, refusing paths that escape workDir.
func readFileLines(workDir, file string, logger *zap.Logger) []string {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, file)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	root, err := filepath.Abs(workDir)
	if err != nil {
		return nil
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		logger.Debug("cited file escapes working tree", zap.String("file", file))
		return nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil
	}
	return strings.Split(string(data), "\n")
}

// snippetRegion extracts the cited line range with two lines of slack on
// each side, or the whole file when no range is cited.
func snippetRegion(lines []string, lr *types.LineRange) string {
	if lr == nil {
		return strings.Join(lines, "\n")
	}
	start := lr.Start - 3
	if start < 0 {
		start = 0
	}
	end := lr.End + 2
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}

// snippetSimilarity returns a [0,1] similarity between a cited snippet and
// the source region, based on edit distance.
func snippetSimilarity(snippet, region string) float64 {
	snippet = strings.TrimSpace(snippet)
	region = strings.TrimSpace(region)
	if snippet == "" || region == "" {
		return 0
	}
	if strings.Contains(region, snippet) {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(snippet, region, false)
	distance := dmp.DiffLevenshtein(diffs)
	longest := len([]rune(snippet))
	if l := len([]rune(region)); l > longest {
		longest = l
	}
	return 1 - float64(distance)/float64(longest)
}

// rankFindings orders findings by severity, confidence and cluster size, in
// place, and orders clusters by severity and size. Ties break on ID so the
// order is deterministic.
func rankFindings(findings []types.Finding, clusters []types.FindingCluster) {
	size := make(map[string]int)
	for _, c := range clusters {
		for _, id := range c.FindingIDs {
			size[id] = len(c.FindingIDs)
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if ca, cb := confidence(a), confidence(b); ca != cb {
			return ca > cb
		}
		if size[a.ID] != size[b.ID] {
			return size[a.ID] > size[b.ID]
		}
		return a.ID < b.ID
	})
	sort.SliceStable(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if len(a.FindingIDs) != len(b.FindingIDs) {
			return len(a.FindingIDs) > len(b.FindingIDs)
		}
		return a.ID < b.ID
	})
}

func confidence(f types.Finding) float64 {
	if f.Confidence == nil {
		return 0
	}
	return *f.Confidence
}

// digest builds a deterministic one-paragraph summary of the merged result.
func digest(findings []types.Finding, clusters []types.FindingCluster) string {
	if len(findings) == 0 {
		return "No findings."
	}
	counts := make(map[types.Severity]int)
	agents := make(map[string]bool)
	verified := 0
	for _, f := range findings {
		counts[f.Severity]++
		agents[f.AgentName] = true
		if f.Verified {
			verified++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d findings from %d agent(s) in %d cluster(s)", len(findings), len(agents), len(clusters))
	var parts []string
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityHigh, types.SeverityMedium, types.SeverityLow, types.SeverityInfo} {
		if counts[sev] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
		}
	}
	fmt.Fprintf(&b, ": %s.", strings.Join(parts, ", "))
	if verified > 0 {
		fmt.Fprintf(&b, " %d verified against source.", verified)
	}
	top := clusters
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) > 0 {
		titles := make([]string, 0, len(top))
		for _, c := range top {
			titles = append(titles, fmt.Sprintf("%s (%s)", c.Title, c.Severity))
		}
		fmt.Fprintf(&b, " Top issues: %s.", strings.Join(titles, "; "))
	}
	return b.String()
}
