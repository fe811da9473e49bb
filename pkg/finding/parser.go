// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package finding

import (
	"strconv"
	"strings"

	"github.com/teradata-labs/warp/pkg/types"
)

// blockDelimiter starts a finding block in assistant markdown. Matching is
// case-insensitive.
const blockDelimiter = "### finding:"

// maxFallbackDescription bounds the description synthesized for blocks that
// carry no labeled description.
const maxFallbackDescription = 200

// Parse scans the assistant messages in order and extracts every finding
// block. Extraction is a single forward pass per block: no regular
// expressions with backtracking quantifiers are involved, so hostile input
// degrades to a truncated default finding instead of pathological runtime.
func Parse(agentName string, messages []types.Message) []Finding {
	var findings []Finding
	index := 0
	for i := range messages {
		if messages[i].Role != types.RoleAssistant {
			continue
		}
		for _, block := range splitBlocks(messages[i].Text()) {
			index++
			findings = append(findings, parseBlock(agentName, index, block))
		}
	}
	return findings
}

// block is one "### Finding:" section: the title from the delimiter line and
// the body up to the next delimiter.
type block struct {
	title string
	body  string
}

// splitBlocks splits text on the case-insensitive block delimiter. Text
// before the first delimiter is not a finding and is discarded.
func splitBlocks(text string) []block {
	lower := strings.ToLower(text)
	var blocks []block
	pos := 0
	start := -1 // start of current block's title line
	for {
		idx := strings.Index(lower[pos:], blockDelimiter)
		if idx < 0 {
			break
		}
		idx += pos
		// Delimiter must begin a line.
		if idx > 0 && text[idx-1] != '\n' {
			pos = idx + len(blockDelimiter)
			continue
		}
		if start >= 0 {
			blocks = append(blocks, cutBlock(text, start, idx))
		}
		start = idx
		pos = idx + len(blockDelimiter)
	}
	if start >= 0 {
		blocks = append(blocks, cutBlock(text, start, len(text)))
	}
	return blocks
}

func cutBlock(text string, start, end int) block {
	section := text[start:end]
	title := section[len(blockDelimiter):]
	body := ""
	if nl := strings.IndexByte(title, '\n'); nl >= 0 {
		body = title[nl+1:]
		title = title[:nl]
	}
	return block{title: strings.TrimSpace(title), body: body}
}

// Parser states for one block body.
const (
	stateScan    = iota // looking for labels or a code fence
	stateSection        // accumulating a labeled multi-line section
	stateFence          // inside a fenced code block
)

// parseBlock extracts one Finding from a block. It never fails: unparseable
// blocks produce a finding with defaults and a truncated description.
func parseBlock(agentName string, index int, b block) Finding {
	f := Finding{
		ID:        agentName + "-" + strconv.Itoa(index),
		AgentName: agentName,
		Severity:  types.SeverityMedium,
		Category:  types.CategoryOther,
		Title:     b.title,
	}

	var (
		state    = stateScan
		section  string // current labeled section name
		sections = map[string]*strings.Builder{}
		fence    strings.Builder
		fenceSet bool
	)

	lines := strings.Split(b.body, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch state {
		case stateFence:
			if strings.HasPrefix(trimmed, "```") {
				state = stateScan
				fenceSet = true
				continue
			}
			if !fenceSet {
				fence.WriteString(line)
				fence.WriteByte('\n')
			}
			continue

		case stateSection:
			// A recognized label or a fence terminates the section. This is
			// what keeps extraction linear on hostile input.
			if strings.HasPrefix(trimmed, "```") {
				state = stateFence
				continue
			}
			if key, value, ok := matchLabel(trimmed); ok {
				applyLabel(&f, sections, key, value, &state, &section)
				continue
			}
			sections[section].WriteString(line)
			sections[section].WriteByte('\n')
			continue

		default: // stateScan
			if strings.HasPrefix(trimmed, "```") {
				state = stateFence
				continue
			}
			if key, value, ok := matchLabel(trimmed); ok {
				applyLabel(&f, sections, key, value, &state, &section)
			}
		}
	}

	if sb, ok := sections["description"]; ok {
		f.Description = strings.TrimSpace(sb.String())
	}
	if sb, ok := sections["suggestion"]; ok {
		f.Suggestion = strings.TrimSpace(sb.String())
	}
	if f.Description == "" {
		f.Description = fallbackDescription(b.body, b.title)
	}
	if fence.Len() > 0 {
		f.CodeSnippet = strings.TrimRight(fence.String(), "\n")
	}
	f.References = scanCWE(b.body)
	return f
}

// matchLabel recognizes "label: value" lines, tolerating list bullets,
// blockquote markers and bold/emphasis around the label.
func matchLabel(line string) (key, value string, ok bool) {
	s := line
	for len(s) > 0 && (s[0] == '-' || s[0] == '*' || s[0] == '>' || s[0] == ' ') {
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "**")
	s = strings.TrimPrefix(s, "_")
	colon := strings.IndexByte(s, ':')
	if colon <= 0 || colon > 24 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(strings.Trim(s[:colon], "*_ ")))
	switch key {
	case "severity", "category", "file", "line", "lines", "confidence",
		"description", "suggestion", "fix", "recommendation":
		return key, strings.TrimSpace(strings.TrimPrefix(s[colon+1:], "**")), true
	}
	return "", "", false
}

// applyLabel routes a matched label either into a scalar field or into a
// multi-line section accumulator.
func applyLabel(f *Finding, sections map[string]*strings.Builder, key, value string, state *int, section *string) {
	switch key {
	case "severity":
		f.Severity = types.ParseSeverity(value)
		*state = stateScan
	case "category":
		f.Category = types.ParseCategory(value)
		*state = stateScan
	case "file":
		f.File = strings.Trim(value, "`")
		*state = stateScan
	case "line", "lines":
		f.Line = parseLineRange(value)
		*state = stateScan
	case "confidence":
		if c, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64); err == nil {
			if strings.HasSuffix(value, "%") {
				c /= 100
			}
			if c >= 0 && c <= 1 {
				f.Confidence = &c
			}
		}
		*state = stateScan
	case "description":
		name := "description"
		startSection(sections, name, value)
		*section = name
		*state = stateSection
	case "suggestion", "fix", "recommendation":
		name := "suggestion"
		startSection(sections, name, value)
		*section = name
		*state = stateSection
	}
}

func startSection(sections map[string]*strings.Builder, name, firstLine string) {
	sb, ok := sections[name]
	if !ok {
		sb = &strings.Builder{}
		sections[name] = sb
	}
	if firstLine != "" {
		sb.WriteString(firstLine)
		sb.WriteByte('\n')
	}
}

// parseLineRange parses "42" or "42-57". Nil on anything else.
func parseLineRange(s string) *types.LineRange {
	s = strings.TrimSpace(strings.Trim(s, "`"))
	if dash := strings.IndexByte(s, '-'); dash > 0 {
		start, err1 := strconv.Atoi(strings.TrimSpace(s[:dash]))
		end, err2 := strconv.Atoi(strings.TrimSpace(s[dash+1:]))
		if err1 == nil && err2 == nil && start > 0 && end >= start {
			return &types.LineRange{Start: start, End: end}
		}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil
	}
	return &types.LineRange{Start: n, End: n}
}

// fallbackDescription synthesizes a description from the raw block when no
// labeled description was found.
func fallbackDescription(body, title string) string {
	s := strings.TrimSpace(body)
	if s == "" {
		s = title
	}
	if len(s) > maxFallbackDescription {
		s = s[:maxFallbackDescription]
	}
	return s
}

// scanCWE extracts every CWE-<digits> token, deduplicated and uppercased.
// Single forward pass, no regexp.
func scanCWE(text string) []string {
	var refs []string
	seen := map[string]bool{}
	upper := strings.ToUpper(text)
	pos := 0
	for {
		idx := strings.Index(upper[pos:], "CWE-")
		if idx < 0 {
			break
		}
		idx += pos
		end := idx + 4
		for end < len(upper) && upper[end] >= '0' && upper[end] <= '9' {
			end++
		}
		pos = end
		if end == idx+4 {
			continue // "CWE-" with no digits
		}
		token := upper[idx:end]
		if !seen[token] {
			seen[token] = true
			refs = append(refs, token)
		}
	}
	return refs
}
