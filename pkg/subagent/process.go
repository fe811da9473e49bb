// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package subagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/teradata-labs/warp/pkg/finding"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
)

// termGrace is how long a child gets after SIGTERM before SIGKILL.
const termGrace = 5 * time.Second

// maxEventLine bounds one NDJSON event line from the child.
const maxEventLine = 4 * 1024 * 1024

// systemEnvVars is the fixed allowlist of parent variables forwarded to
// children, besides the provider credential variables.
var systemEnvVars = []string{"PATH", "HOME", "TERM", "SHELL", "LANG", "LC_ALL", "USER", "LOGNAME"}

// childSpec is one fully resolved child invocation: credentials already
// looked up, so spawning cannot fail on auth.
type childSpec struct {
	preset   types.AgentPreset
	task     string
	cwd      string
	provider string
	apiKey   string
}

// buildArgs assembles the child command line: JSON event mode, one-shot, no
// session persistence, explicit provider and model.
func buildArgs(spec childSpec, promptPath string) []string {
	args := []string{"run", "--json", "--no-save",
		"--provider", spec.provider,
		"--model", spec.preset.Model,
	}
	if len(spec.preset.Tools) > 0 {
		args = append(args, "--tools", strings.Join(spec.preset.Tools, ","))
	}
	if promptPath != "" {
		args = append(args, "--append-system-prompt", promptPath)
	}
	return append(args, "Task: "+spec.task)
}

// childEnv builds the child environment from the allowlist plus the
// provider's credential variables. Nothing else from the parent environment
// is forwarded.
func childEnv(spec childSpec) []string {
	env := make([]string, 0, len(systemEnvVars)+3)
	for _, name := range systemEnvVars {
		if value := os.Getenv(name); value != "" {
			env = append(env, name+"="+value)
		}
	}
	vars, err := llm.Credentials(spec.provider)
	if err != nil {
		return env
	}
	env = append(env, vars.Primary+"="+spec.apiKey)
	for _, name := range vars.Passthrough {
		if value := os.Getenv(name); value != "" {
			env = append(env, name+"="+value)
		}
	}
	return env
}

// writePrompt stores the system prompt in an owner-only tempfile and returns
// its path, or "" when there is no prompt. The caller removes the directory
// after the child has exited.
func writePrompt(prompt string) (dir, path string, err error) {
	if prompt == "" {
		return "", "", nil
	}
	dir, err = os.MkdirTemp("", "warp-prompt-")
	if err != nil {
		return "", "", fmt.Errorf("create prompt dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("restrict prompt dir: %w", err)
	}
	path = filepath.Join(dir, "system-prompt.md")
	if err := os.WriteFile(path, []byte(prompt), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("write prompt: %w", err)
	}
	return dir, path, nil
}

// spawn runs one child to completion and folds its event log into an
// AgentResult. The returned result is non-nil even on failure; the error is
// non-nil only for abort or spawn-level problems.
func (r *Runner) spawn(ctx context.Context, spec childSpec, onUpdate UpdateFunc) (*types.AgentResult, error) {
	start := time.Now()
	result := &types.AgentResult{AgentName: spec.preset.Name}

	promptDir, promptPath, err := writePrompt(spec.preset.SystemPrompt)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	// Deleted only after the child has exited, never earlier.
	cleanup := func() {
		if promptDir != "" {
			_ = os.RemoveAll(promptDir)
		}
	}

	cmd := exec.Command(r.binary, buildArgs(spec, promptPath)...)
	cmd.Dir = spec.cwd
	cmd.Env = childEnv(spec)
	// Own process group, so termination signals reach the child's own
	// subprocesses and cannot leave pipe writers behind.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		result.Error = err.Error()
		return result, fmt.Errorf("child stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cleanup()
		result.Error = err.Error()
		return result, fmt.Errorf("start child: %w", err)
	}

	r.logger.Debug("spawned subagent",
		zap.String("agent", spec.preset.Name),
		zap.Int("pid", cmd.Process.Pid))

	coll := newCollector(spec.preset.Name, onUpdate)
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxEventLine)
		for scanner.Scan() {
			var ev types.AgentEvent
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
				// Non-event output on stdout is ignored.
				continue
			}
			coll.handle(ev)
		}
		done <- cmd.Wait()
	}()

	var waitErr error
	aborted := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		// SIGTERM first; SIGKILL if the child is still alive after the
		// grace period. Either way, wait for it to actually exit.
		aborted = true
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		select {
		case waitErr = <-done:
		case <-time.After(termGrace):
			r.logger.Warn("subagent ignored SIGTERM, killing",
				zap.String("agent", spec.preset.Name),
				zap.Int("pid", cmd.Process.Pid))
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			waitErr = <-done
		}
	}
	cleanup()
	coll.maybeUpdate(true)

	result.Messages = coll.messages
	result.Usage = coll.usage
	result.DurationMs = time.Since(start).Milliseconds()

	switch {
	case aborted:
		result.Error = "aborted"
		return result, ctx.Err()
	case waitErr != nil:
		result.Error = fmt.Sprintf("child exited: %v", waitErr)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			result.Error += ": " + lastLine(msg)
		}
	case coll.stopReason == "error" || coll.stopReason == "aborted":
		result.Error = "agent stopped: " + coll.stopReason
	default:
		result.Success = true
		result.Findings = finding.Parse(spec.preset.Name, coll.messages)
	}
	return result, nil
}

// lastLine returns the final non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return s
}
