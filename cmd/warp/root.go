// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/config"
	"github.com/teradata-labs/warp/pkg/store"
)

var (
	cfgFile   string
	sessionID string
	cfg       *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "warp",
	Short: "Warp - Multi-agent orchestration runtime",
	Long: heredoc.Doc(`
		Warp runs LLM agents as isolated child processes, coordinates them
		into teams with merged findings, and chains teams into workflows.

		Agents are defined as YAML presets; teams and workflows reference
		presets by name or define them inline. Every run is persisted to a
		per-session SQLite database.`),
}

// Execute runs the root command
func Execute() {
	defer func() { _ = log.Sync() }()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./warp.yaml, ~/.config/warp/warp.yaml)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session identifier (default: a fresh UUID)")
}

// initConfig reads the config file and environment variables.
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
}

// presetDir resolves the agent preset directory.
func presetDir() string {
	if cfg.PresetDir != "" {
		return cfg.PresetDir
	}
	return filepath.Join(cfg.DataDir, "presets")
}

// openLibrary loads the preset library from the configured directory.
func openLibrary() (*config.Library, error) {
	dir := presetDir()
	lib, err := config.NewLibrary(dir, log.Logger())
	if err != nil {
		return nil, fmt.Errorf("load presets from %s: %w", dir, err)
	}
	return lib, nil
}

// openStore opens the per-session execution database.
func openStore() (*store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.Open(cfg.DataDir, sessionID)
}

// startRetention schedules background pruning when configured. The returned
// stop function is a no-op when retention is disabled.
func startRetention(s *store.Store) func() {
	if cfg.RetentionCron == "" || s == nil {
		return func() {}
	}
	sched, err := store.NewRetentionScheduler(s, cfg.RetentionCron, cfg.KeepPerTeam)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid retention_cron %q: %v\n", cfg.RetentionCron, err)
		return func() {}
	}
	sched.Start()
	return sched.Stop
}
