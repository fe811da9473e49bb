// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config loads the application configuration, the agent preset
// library, and team/workflow definitions from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/teradata-labs/warp/pkg/team"
	"github.com/teradata-labs/warp/pkg/workflow"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration, read from warp.yaml.
type Config struct {
	// DataDir holds the per-session execution databases
	DataDir string `mapstructure:"data_dir"`

	// PresetDir holds the agent preset library
	PresetDir string `mapstructure:"preset_dir"`

	// Provider is the default LLM provider
	Provider string `mapstructure:"provider"`

	// Model is the default model identifier
	Model string `mapstructure:"model"`

	// RetentionCron schedules execution pruning; empty disables it
	RetentionCron string `mapstructure:"retention_cron"`

	// KeepPerTeam is the retention depth per (session, team)
	KeepPerTeam int `mapstructure:"keep_per_team"`

	// MaxConcurrency bounds parallel subagent children
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// Load reads warp.yaml from the given path (or the default search
// locations when empty) with WARP_-prefixed environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("warp")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "warp"))
		}
	}
	v.SetEnvPrefix("WARP")
	v.AutomaticEnv()

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("provider", "anthropic")
	v.SetDefault("keep_per_team", 20)
	v.SetDefault("max_concurrency", 4)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "warp")
	}
	return ".warp"
}

// LoadTeam reads a team definition from YAML.
func LoadTeam(path string) (*team.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team config: %w", err)
	}
	var cfg team.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse team config %s: %w", filepath.Base(path), err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%s: team has no name", filepath.Base(path))
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("team %s has no agents", cfg.Name)
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for _, preset := range cfg.Agents {
		if preset.Name == "" {
			return nil, fmt.Errorf("team %s has an agent without a name", cfg.Name)
		}
		if seen[preset.Name] {
			return nil, fmt.Errorf("team %s has duplicate agent %q", cfg.Name, preset.Name)
		}
		seen[preset.Name] = true
	}
	return &cfg, nil
}

// LoadWorkflow reads and validates a workflow definition from YAML.
func LoadWorkflow(path string) (*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	var def workflow.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", filepath.Base(path), err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
