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
	"strconv"
	"strings"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/teradata-labs/warp/pkg/config"
	"github.com/teradata-labs/warp/pkg/graph"
	"github.com/teradata-labs/warp/pkg/workflow"
)

var (
	workflowContext []string
	workflowChoices []string
	workflowSkips   []string
)

// workflowCmd groups workflow subcommands
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run and validate multi-step workflows",
	Long: heredoc.Doc(`
		A workflow chains steps into a dependency graph: single agents,
		parallel agent groups, whole teams, conditional branches and
		checkpoints. Steps whose dependencies fail or are skipped are
		skipped transitively, with the reason recorded per step.`),
}

// workflowRunCmd executes a workflow definition
var workflowRunCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow",
	Example: heredoc.Doc(`
		warp workflow run release-check.yaml
		warp workflow run --context branch=main --choice deploy=true release.yaml
		warp workflow run --skip slow-audit release-check.yaml`),
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

// workflowPlanCmd prints the parallelizable execution waves
var workflowPlanCmd = &cobra.Command{
	Use:   "plan <workflow.yaml>",
	Short: "Show the execution plan as dependency waves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		def, err := config.LoadWorkflow(args[0])
		if err != nil {
			return err
		}
		g := graph.New()
		for _, step := range def.Steps {
			g.AddNode(step.ID)
		}
		for _, step := range def.Steps {
			for _, dep := range step.DependsOn {
				if err := g.AddEdge(dep, step.ID); err != nil {
					return err
				}
			}
		}
		waves, err := g.Waves()
		if err != nil {
			return err
		}
		for i, wave := range waves {
			fmt.Printf("wave %d: %s\n", i+1, strings.Join(wave, ", "))
		}
		return nil
	},
}

// workflowValidateCmd checks a workflow definition without running it
var workflowValidateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Validate a workflow definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		def, err := config.LoadWorkflow(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s: %d steps, entry %s\n", def.Name, len(def.Steps), def.Entry)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(workflowRunCmd)
	workflowCmd.AddCommand(workflowPlanCmd)
	workflowCmd.AddCommand(workflowValidateCmd)

	workflowRunCmd.Flags().StringArrayVar(&workflowContext, "context", nil, "initial context entry, key=value (repeatable)")
	workflowRunCmd.Flags().StringArrayVar(&workflowChoices, "choice", nil, "answer to a user condition, field=true|false (repeatable)")
	workflowRunCmd.Flags().StringArrayVar(&workflowSkips, "skip", nil, "step id to skip (repeatable)")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	def, err := config.LoadWorkflow(args[0])
	if err != nil {
		return err
	}

	wctx := workflow.Context{}
	for _, pair := range workflowContext {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid --context entry %q, want key=value", pair)
		}
		wctx[key] = value
	}
	choices := make(map[string]bool)
	for _, pair := range workflowChoices {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid --choice entry %q, want field=true|false", pair)
		}
		choice, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid --choice value %q: %w", value, err)
		}
		choices[key] = choice
	}
	skips := make(map[string]bool, len(workflowSkips))
	for _, id := range workflowSkips {
		skips[id] = true
	}

	engine := workflow.NewEngine(workflow.EngineConfig{
		Definition:    *def,
		SkipDecisions: skips,
		UserChoices:   choices,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream := engine.Run(ctx, wctx)
	for ev := range stream.Events() {
		printWorkflowEvent(ev)
	}
	result, err := stream.Result(context.Background())
	if err != nil {
		return err
	}

	fmt.Println()
	for _, step := range result.Steps {
		switch step.Status {
		case workflow.StepCompleted:
			fmt.Printf("✓ %s", step.StepID)
			if step.FindingCount > 0 {
				fmt.Printf(" (%d findings)", step.FindingCount)
			}
			fmt.Println()
		case workflow.StepFailed:
			fmt.Printf("✗ %s: %s\n", step.StepID, step.Err)
		case workflow.StepSkipped:
			fmt.Printf("- %s: %s\n", step.StepID, step.Reason)
		}
	}
	if !result.Success {
		return fmt.Errorf("workflow failed: %s", result.Error)
	}
	return nil
}

func printWorkflowEvent(ev workflow.Event) {
	switch ev.Type {
	case workflow.EventWorkflowStart:
		fmt.Printf("Workflow %s\n", ev.WorkflowName)
	case workflow.EventStepStart:
		fmt.Printf("→ %s\n", ev.StepID)
	case workflow.EventStepSkip:
		fmt.Printf("- %s skipped: %s\n", ev.StepID, ev.Reason)
	case workflow.EventStepError:
		fmt.Printf("✗ %s: %s\n", ev.StepID, ev.Err)
	case workflow.EventBranch:
		fmt.Printf("⇒ branch: %s\n", strings.Join(ev.Chosen, ", "))
	case workflow.EventCheckpoint:
		fmt.Printf("⚑ checkpoint %s\n", ev.StepID)
	}
}
