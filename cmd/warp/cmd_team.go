// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/teradata-labs/warp/pkg/config"
	"github.com/teradata-labs/warp/pkg/store"
	"github.com/teradata-labs/warp/pkg/team"
	"github.com/teradata-labs/warp/pkg/tools"
	"github.com/teradata-labs/warp/pkg/types"
)

var (
	teamWorkDir string
	teamNoSave  bool
)

// teamCmd groups team subcommands
var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Run and validate agent teams",
	Long: heredoc.Doc(`
		A team runs several agent presets against one task, in parallel or
		sequentially, then merges their findings with the configured merge
		strategy. Team runs are persisted per session and survive restarts.`),
}

// teamRunCmd executes a team definition
var teamRunCmd = &cobra.Command{
	Use:   "run <team.yaml> <task>",
	Short: "Execute a team against a task",
	Example: heredoc.Doc(`
		warp team run review-team.yaml "Review the changes on this branch"
		warp team run --workdir ./svc review-team.yaml "Audit the service"`),
	Args: cobra.ExactArgs(2),
	RunE: runTeam,
}

// teamValidateCmd checks a team definition without running it
var teamValidateCmd = &cobra.Command{
	Use:   "validate <team.yaml>",
	Short: "Validate a team definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		teamCfg, err := config.LoadTeam(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s: %d agents, %s merge\n", teamCfg.Name, len(teamCfg.Agents), teamCfg.Merge.Strategy)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(teamCmd)
	teamCmd.AddCommand(teamRunCmd)
	teamCmd.AddCommand(teamValidateCmd)

	teamRunCmd.Flags().StringVar(&teamWorkDir, "workdir", "", "tree findings are verified against (default: current directory)")
	teamRunCmd.Flags().BoolVar(&teamNoSave, "no-save", false, "do not persist the run")
}

func runTeam(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	teamCfg, err := config.LoadTeam(args[0])
	if err != nil {
		return err
	}
	task := args[1]

	workDir := teamWorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return err
		}
	}

	var s *store.Store
	if !teamNoSave {
		if s, err = openStore(); err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		defer startRetention(s)()
	}

	engine := team.NewEngine(team.EngineConfig{
		Team:      *teamCfg,
		Store:     s,
		Registry:  tools.NewRegistry(),
		SessionID: sessionID,
		WorkDir:   workDir,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := engine.Run(ctx, task)
	for ev := range stream.Events() {
		printTeamEvent(ev)
	}
	result, err := stream.Result(context.Background())
	if err != nil {
		return err
	}
	printTeamResult(result)
	if !result.Success {
		return fmt.Errorf("team failed: %s", result.Error)
	}
	return nil
}

func printTeamEvent(ev team.Event) {
	switch ev.Type {
	case team.EventTeamStart:
		fmt.Printf("Team %s: %s\n", ev.TeamName, ev.Task)
	case team.EventAgentStart:
		fmt.Printf("→ %s started\n", ev.AgentName)
	case team.EventAgentRetry:
		fmt.Printf("↻ %s retrying (attempt %d)\n", ev.AgentName, ev.Attempt)
	case team.EventAgentTaskUpdate:
		if tp := ev.TaskProgress; tp != nil && tp.ActiveTaskTitle != "" {
			fmt.Printf("  %s: %s (%d/%d)\n", ev.AgentName, tp.ActiveTaskTitle, tp.Completed, tp.Total)
		}
	case team.EventAgentError:
		if ev.WillRetry {
			fmt.Printf("✗ %s: %s (will retry)\n", ev.AgentName, ev.Err)
		} else {
			fmt.Printf("✗ %s: %s\n", ev.AgentName, ev.Err)
		}
	case team.EventAgentEnd:
		if res := ev.AgentResult; res != nil && res.Success {
			fmt.Printf("✓ %s finished: %d findings\n", ev.AgentName, len(res.Findings))
		}
	case team.EventMergeStart:
		fmt.Printf("Merging %d findings\n", ev.FindingCount)
	case team.EventMergeProgress:
		fmt.Printf("  merge: %s\n", ev.Phase)
	}
}

func printTeamResult(result *types.TeamResult) {
	fmt.Println()
	if result.Summary != "" {
		fmt.Println(result.Summary)
		fmt.Println()
	}
	for _, f := range result.Findings {
		fmt.Printf("[%s] %s", f.Severity, f.Title)
		if f.File != "" {
			fmt.Printf(" (%s)", f.File)
		}
		fmt.Println()
	}
	fmt.Printf("\n%d findings, %d agents, %d tokens, %.1fs\n",
		len(result.Findings), len(result.AgentResults),
		result.TotalUsage.InputTokens+result.TotalUsage.OutputTokens,
		float64(result.DurationMs)/1000)
}
