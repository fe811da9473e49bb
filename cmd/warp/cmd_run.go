// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/teradata-labs/warp/pkg/agent"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/store"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

var (
	runAgentName    string
	runProvider     string
	runModel        string
	runTools        []string
	runThinking     string
	runAppendPrompt string
	runJSON         bool
	runNoSave       bool
)

// runAgentCmd executes one agent in-process. With --json it emits NDJSON
// events on stdout, which is the mode parent processes use when they spawn
// warp as a subagent child.
var runAgentCmd = &cobra.Command{
	Use:   "run [flags] <task>",
	Short: "Run a single agent against a task",
	Long: heredoc.Doc(`
		Run one agent to completion against a task.

		The agent is either a named preset from the preset library (--agent)
		or an ad-hoc agent assembled from flags. With --json, every loop
		event is written to stdout as one JSON object per line; this is the
		machine protocol used between parent and child warp processes.`),
	Example: heredoc.Doc(`
		# Run a library preset
		warp run --agent reviewer "Review the diff in HEAD"

		# Ad-hoc agent, machine-readable events
		warp run --json --no-save --provider anthropic --model claude-sonnet-4-5 "Task: summarize main.go"`),
	Args: cobra.MinimumNArgs(1),
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runAgentCmd)

	runAgentCmd.Flags().StringVar(&runAgentName, "agent", "", "preset name from the library")
	runAgentCmd.Flags().StringVar(&runProvider, "provider", "", "LLM provider override")
	runAgentCmd.Flags().StringVar(&runModel, "model", "", "model identifier override")
	runAgentCmd.Flags().StringSliceVar(&runTools, "tools", nil, "allowed tool names (default: all registered)")
	runAgentCmd.Flags().StringVar(&runThinking, "thinking", "", "thinking level (off, minimal, low, medium, high, xhigh)")
	runAgentCmd.Flags().StringVar(&runAppendPrompt, "append-system-prompt", "", "file whose contents are appended to the system prompt")
	runAgentCmd.Flags().BoolVar(&runJSON, "json", false, "emit NDJSON events on stdout")
	runAgentCmd.Flags().BoolVar(&runNoSave, "no-save", false, "do not persist the run")
}

// resolveRunPreset assembles the effective preset from the library entry (if
// any) and flag overrides.
func resolveRunPreset() (types.AgentPreset, error) {
	var preset types.AgentPreset
	if runAgentName != "" {
		lib, err := openLibrary()
		if err != nil {
			return preset, err
		}
		found, ok := lib.Get(runAgentName)
		if !ok {
			return preset, fmt.Errorf("unknown agent preset %q (have: %s)", runAgentName, strings.Join(lib.Names(), ", "))
		}
		preset = found
	} else {
		preset.Name = "adhoc"
	}

	if runProvider != "" {
		preset.Provider = runProvider
	}
	if runModel != "" {
		preset.Model = runModel
	}
	if len(runTools) > 0 {
		preset.Tools = runTools
	}
	if runThinking != "" {
		level := types.ThinkingLevel(runThinking)
		if !level.Valid() {
			return preset, fmt.Errorf("unknown thinking level %q", runThinking)
		}
		preset.Thinking = level
	}
	if preset.Provider == "" {
		preset.Provider = cfg.Provider
	}
	if preset.Model == "" {
		preset.Model = cfg.Model
	}

	if runAppendPrompt != "" {
		extra, err := os.ReadFile(runAppendPrompt)
		if err != nil {
			return preset, fmt.Errorf("read appended system prompt: %w", err)
		}
		if preset.SystemPrompt != "" {
			preset.SystemPrompt += "\n\n"
		}
		preset.SystemPrompt += string(extra)
	}
	return preset, nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	task := strings.Join(args, " ")

	preset, err := resolveRunPreset()
	if err != nil {
		return err
	}
	provider, err := llm.NewProvider(preset.Provider, preset.Model)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var emit agent.EmitFunc
	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		emit = func(ev types.AgentEvent) { _ = enc.Encode(ev) }
	} else {
		emit = printEvent
	}

	a := agent.New(agent.Config{
		Preset:   preset,
		Provider: provider,
		Registry: tools.NewRegistry(),
	})
	result, err := a.Run(ctx, task, emit)
	if err != nil {
		return err
	}

	if !runNoSave {
		if err := saveRun(preset.Name, task, result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to persist run: %v\n", err)
		}
	}

	if !runJSON {
		printRunSummary(result)
	}
	if !result.Success && !runJSON {
		// In JSON mode failure travels in the agent_end event; a non-zero
		// exit would mask it as a crash.
		return fmt.Errorf("agent failed: %s", result.Error)
	}
	return nil
}

// saveRun records a single-agent run as a one-agent execution.
func saveRun(agentName, task string, result *types.AgentResult) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	execID, err := s.CreateExecution(ctx, sessionID, agentName, task, 1)
	if err != nil {
		return err
	}
	rowID, err := s.CreateAgentResult(ctx, execID, agentName)
	if err != nil {
		return err
	}
	status := store.AgentCompleted
	if !result.Success {
		status = store.AgentFailed
	}
	update := store.AgentResultUpdate{
		Status:     &status,
		Findings:   result.Findings,
		Messages:   result.Messages,
		Usage:      &result.Usage,
		DurationMs: &result.DurationMs,
	}
	if result.Error != "" {
		update.Error = &result.Error
	}
	if err := s.UpdateAgentResult(ctx, rowID, update); err != nil {
		return err
	}
	execStatus := store.ExecutionCompleted
	if !result.Success {
		execStatus = store.ExecutionFailed
	}
	return s.UpdateExecutionStatus(ctx, execID, execStatus, result.Error)
}

// printEvent renders one loop event for a terminal.
func printEvent(ev types.AgentEvent) {
	switch ev.Type {
	case types.EventToolExecutionStart:
		fmt.Printf("  ⚙ %s\n", ev.Name)
	case types.EventToolExecutionEnd:
		if ev.IsError {
			fmt.Printf("  ✗ tool failed: %s\n", firstLine(ev.Result))
		}
	case types.EventMessageEnd:
		if ev.Message != nil {
			if text := ev.Message.Text(); text != "" {
				fmt.Println(text)
			}
		}
	}
}

func printRunSummary(result *types.AgentResult) {
	fmt.Println()
	if len(result.Findings) > 0 {
		fmt.Printf("Findings: %d\n", len(result.Findings))
		for _, f := range result.Findings {
			fmt.Printf("  [%s] %s\n", f.Severity, f.Title)
		}
	}
	fmt.Printf("Tokens: %d in / %d out, %.1fs\n",
		result.Usage.InputTokens, result.Usage.OutputTokens,
		float64(result.DurationMs)/1000)
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return s
}
