// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
)

var pruneKeep int

// sessionsCmd groups execution-history subcommands
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and prune persisted executions",
	Long: heredoc.Doc(`
		Every team run is persisted to a per-session SQLite database under
		the data directory. These commands inspect a session's history and
		reclaim space from old executions.`),
}

// sessionsListCmd shows unfinished executions for the session
var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incomplete executions in the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		execs, err := s.GetIncompleteExecutions(context.Background(), sessionID)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			fmt.Println("No incomplete executions")
			return nil
		}
		for _, e := range execs {
			fmt.Printf("#%d  %-10s %-20s %s\n", e.ID, e.Status, e.TeamName, e.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}

// sessionsPruneCmd deletes old executions beyond the retention depth
var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old executions beyond the retention depth",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		s, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		keep := pruneKeep
		if keep <= 0 {
			keep = cfg.KeepPerTeam
		}
		removed, err := s.PruneOldExecutions(context.Background(), keep)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d executions (kept %d per team)\n", removed, keep)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsPruneCmd)

	sessionsPruneCmd.Flags().IntVar(&pruneKeep, "keep", 0, "executions to keep per team (default: keep_per_team from config)")
}
