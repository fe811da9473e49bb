// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// agentsCmd groups preset library subcommands
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the agent preset library",
	Long: heredoc.Doc(`
		Agent presets are YAML files in the preset directory, one agent per
		file. Presets are hot-reloaded while a run is in flight, so edits
		take effect without restarting.`),
}

// agentsListCmd lists the loaded presets
var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available agent presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		lib, err := openLibrary()
		if err != nil {
			return err
		}
		names := lib.Names()
		if len(names) == 0 {
			fmt.Printf("No presets in %s\n", presetDir())
			return nil
		}
		for _, name := range names {
			preset, _ := lib.Get(name)
			if preset.Description != "" {
				fmt.Printf("%-20s %s\n", name, preset.Description)
			} else {
				fmt.Println(name)
			}
		}
		return nil
	},
}

// agentsShowCmd prints one preset as YAML
var agentsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a preset definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		lib, err := openLibrary()
		if err != nil {
			return err
		}
		preset, ok := lib.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown agent preset %q", args[0])
		}
		return yaml.NewEncoder(os.Stdout).Encode(preset)
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsShowCmd)
}
