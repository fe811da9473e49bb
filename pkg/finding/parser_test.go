// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package finding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/warp/pkg/types"
)

func assistant(text string) []types.Message {
	return []types.Message{types.TextMessage(types.RoleAssistant, text)}
}

func TestParseSingleFinding(t *testing.T) {
	msg := `Here is my review.

### Finding: SQL injection in user lookup
Severity: critical
Category: security
File: internal/db/users.go
Line: 42
Confidence: 0.9
Description: The query concatenates raw user input.
This allows arbitrary SQL execution (CWE-89).
Suggestion: Use parameterized queries.
` + "```go\ndb.Query(\"SELECT * FROM users WHERE id = \" + id)\n```\n"

	findings := Parse("reviewer", assistant(msg))
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "reviewer-1", f.ID)
	assert.Equal(t, "reviewer", f.AgentName)
	assert.Equal(t, "SQL injection in user lookup", f.Title)
	assert.Equal(t, types.SeverityCritical, f.Severity)
	assert.Equal(t, types.CategorySecurity, f.Category)
	assert.Equal(t, "internal/db/users.go", f.File)
	require.NotNil(t, f.Line)
	assert.Equal(t, 42, f.Line.Start)
	assert.Equal(t, 42, f.Line.End)
	require.NotNil(t, f.Confidence)
	assert.InDelta(t, 0.9, *f.Confidence, 1e-9)
	assert.Contains(t, f.Description, "concatenates raw user input")
	assert.Contains(t, f.Description, "arbitrary SQL execution")
	assert.Equal(t, "Use parameterized queries.", f.Suggestion)
	assert.Contains(t, f.CodeSnippet, "db.Query")
	assert.Equal(t, []string{"CWE-89"}, f.References)
}

func TestParseMultipleFindingsAcrossMessages(t *testing.T) {
	messages := []types.Message{
		types.TextMessage(types.RoleAssistant, "### Finding: First\nSeverity: high\nDescription: one\n"),
		types.TextMessage(types.RoleUser, "### Finding: not a finding, wrong role"),
		types.TextMessage(types.RoleAssistant, "### Finding: Second\nSeverity: low\nDescription: two\n"),
	}
	findings := Parse("a", messages)
	require.Len(t, findings, 2)
	assert.Equal(t, "a-1", findings[0].ID)
	assert.Equal(t, "a-2", findings[1].ID)
	assert.Equal(t, "First", findings[0].Title)
	assert.Equal(t, "Second", findings[1].Title)
}

func TestParseCaseInsensitiveDelimiter(t *testing.T) {
	findings := Parse("a", assistant("### FINDING: Shouty\nseverity: HIGH\n"))
	require.Len(t, findings, 1)
	assert.Equal(t, "Shouty", findings[0].Title)
	assert.Equal(t, types.SeverityHigh, findings[0].Severity)
}

func TestParseDefaults(t *testing.T) {
	findings := Parse("a", assistant("### Finding: Vague\nSeverity: catastrophic\nCategory: vibes\n"))
	require.Len(t, findings, 1)
	assert.Equal(t, types.SeverityMedium, findings[0].Severity)
	assert.Equal(t, types.CategoryOther, findings[0].Category)
}

func TestParseLineRangeVariants(t *testing.T) {
	findings := Parse("a", assistant("### Finding: Range\nLines: 10-20\n\n### Finding: Bad\nLine: abc\n"))
	require.Len(t, findings, 2)
	require.NotNil(t, findings[0].Line)
	assert.Equal(t, 10, findings[0].Line.Start)
	assert.Equal(t, 20, findings[0].Line.End)
	assert.Nil(t, findings[1].Line)
}

func TestParseSuggestionLabelVariants(t *testing.T) {
	for _, label := range []string{"Suggestion", "Fix", "Recommendation"} {
		findings := Parse("a", assistant("### Finding: X\n"+label+": do the thing\n"))
		require.Len(t, findings, 1, label)
		assert.Equal(t, "do the thing", findings[0].Suggestion, label)
	}
}

func TestParseBoldLabels(t *testing.T) {
	findings := Parse("a", assistant("### Finding: Bold\n- **Severity**: high\n- **File**: `main.go`\n"))
	require.Len(t, findings, 1)
	assert.Equal(t, types.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "main.go", findings[0].File)
}

func TestParseEmptyBlockFallback(t *testing.T) {
	findings := Parse("a", assistant("### Finding: Just a title\n"))
	require.Len(t, findings, 1)
	assert.Equal(t, "Just a title", findings[0].Description)
}

func TestParseFallbackDescriptionTruncated(t *testing.T) {
	body := strings.Repeat("x", 500)
	findings := Parse("a", assistant("### Finding: Long\n"+body))
	require.Len(t, findings, 1)
	assert.Len(t, findings[0].Description, maxFallbackDescription)
}

func TestParseCWEDeduplicatedUppercased(t *testing.T) {
	findings := Parse("a", assistant("### Finding: X\nDescription: cwe-79 and CWE-79 and CWE-89, plus CWE- alone\n"))
	require.Len(t, findings, 1)
	assert.Equal(t, []string{"CWE-79", "CWE-89"}, findings[0].References)
}

func TestParseLabelInsideCodeFenceIgnored(t *testing.T) {
	msg := "### Finding: Fence\nSeverity: high\n```\nSeverity: critical\n```\n"
	findings := Parse("a", assistant(msg))
	require.Len(t, findings, 1)
	assert.Equal(t, types.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "Severity: critical", findings[0].CodeSnippet)
}

func TestParseOnlyFirstFenceCaptured(t *testing.T) {
	msg := "### Finding: Two fences\n```\nfirst\n```\nmore text\n```\nsecond\n```\n"
	findings := Parse("a", assistant(msg))
	require.Len(t, findings, 1)
	assert.Equal(t, "first", findings[0].CodeSnippet)
}

func TestParseSectionTerminatedByNextLabel(t *testing.T) {
	msg := "### Finding: X\nDescription: line one\nline two\nSeverity: low\ntrailing text not in description\n"
	findings := Parse("a", assistant(msg))
	require.Len(t, findings, 1)
	assert.Equal(t, "line one\nline two", findings[0].Description)
	assert.Equal(t, types.SeverityLow, findings[0].Severity)
}

func TestParseConfidencePercent(t *testing.T) {
	findings := Parse("a", assistant("### Finding: X\nConfidence: 85%\n"))
	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].Confidence)
	assert.InDelta(t, 0.85, *findings[0].Confidence, 1e-9)
}

func TestParseHostileInputLinear(t *testing.T) {
	// A block with thousands of near-label lines must still parse in one pass.
	var sb strings.Builder
	sb.WriteString("### Finding: hostile\n")
	for i := 0; i < 5000; i++ {
		sb.WriteString("aaaaaaaaaaaaaaaa: bbbbbbbbbbbbbbb\n")
	}
	findings := Parse("a", assistant(sb.String()))
	require.Len(t, findings, 1)
	assert.NotEmpty(t, findings[0].Description)
}

func TestParseDelimiterMidLineIgnored(t *testing.T) {
	findings := Parse("a", assistant("the text ### Finding: inline does not count\n"))
	assert.Empty(t, findings)
}
