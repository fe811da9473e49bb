// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package subagent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap/zaptest"
)

// fakeChild is a shell stand-in for the real child binary. It echoes its
// positional task (and optionally the appended system prompt and its
// environment variable names) back as NDJSON agent events.
const fakeChild = `#!/bin/sh
prompt=""
prev=""
last=""
for a in "$@"; do
  if [ "$prev" = "--append-system-prompt" ]; then prompt=$(cat "$a"); fi
  prev="$a"
  last="$a"
done
case "$last" in
  *SLEEP*) sleep 30 ;;
  *FAIL*) echo "fatal: model refused" >&2; exit 3 ;;
esac
vars=$(env | cut -d= -f1 | tr '\n' ' ')
printf '{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"task=%s prompt=%s env=%s"}],"usage":{"inputTokens":5,"outputTokens":2}}}\n' "$last" "$prompt" "$vars"
printf '{"type":"agent_end","stopReason":"stop"}\n'
`

// countingChild marks itself active in the directory named by its task,
// records how many children are active at that instant, and lingers long
// enough for siblings to overlap. Used to observe the concurrency bound.
const countingChild = `#!/bin/sh
for a in "$@"; do last="$a"; done
dir=${last#Task: }
touch "$dir/$$.active"
active=$(ls "$dir" | grep -c '\.active$')
echo "$active" >> "$dir/counts"
sleep 0.3
rm -f "$dir/$$.active"
printf '{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"ok"}],"usage":{"inputTokens":1,"outputTokens":1}}}\n'
printf '{"type":"agent_end","stopReason":"stop"}\n'
`

func testRunner(t *testing.T) *Runner {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake-warp")
	require.NoError(t, os.WriteFile(bin, []byte(fakeChild), 0o755))
	r, err := New(Config{
		Binary:      bin,
		KeyResolver: func(provider string) (string, error) { return "test-key-123", nil },
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return r
}

func reviewerTask(task string) Task {
	return Task{
		Agent: types.AgentPreset{Name: "reviewer", SystemPrompt: "Be thorough.", Model: "claude-sonnet-4-5"},
		Task:  task,
	}
}

func TestBuildArgs(t *testing.T) {
	spec := childSpec{
		preset:   types.AgentPreset{Name: "a", Model: "m1", Tools: []string{"read", "grep"}},
		task:     "inspect the parser",
		provider: "anthropic",
	}
	args := buildArgs(spec, "/tmp/p/prompt.md")
	assert.Equal(t, []string{
		"run", "--json", "--no-save",
		"--provider", "anthropic",
		"--model", "m1",
		"--tools", "read,grep",
		"--append-system-prompt", "/tmp/p/prompt.md",
		"Task: inspect the parser",
	}, args)
}

func TestBuildArgsOmitsOptionalFlags(t *testing.T) {
	args := buildArgs(childSpec{preset: types.AgentPreset{Model: "m"}, task: "x", provider: "openai"}, "")
	assert.NotContains(t, args, "--tools")
	assert.NotContains(t, args, "--append-system-prompt")
	assert.Equal(t, "Task: x", args[len(args)-1])
}

func TestChildEnvIsAllowlisted(t *testing.T) {
	t.Setenv("SOME_PARENT_SECRET", "leaky")
	t.Setenv("ANTHROPIC_BASE_URL", "https://proxy.internal")

	env := childEnv(childSpec{provider: "anthropic", apiKey: "k-1"})
	allowed := map[string]bool{"ANTHROPIC_API_KEY": true, "ANTHROPIC_BASE_URL": true}
	for _, name := range systemEnvVars {
		allowed[name] = true
	}
	for _, kv := range env {
		name := strings.SplitN(kv, "=", 2)[0]
		assert.True(t, allowed[name], "unexpected env var %s", name)
	}
	assert.Contains(t, env, "ANTHROPIC_API_KEY=k-1")
	assert.Contains(t, env, "ANTHROPIC_BASE_URL=https://proxy.internal")
}

func TestRunSingle(t *testing.T) {
	r := testRunner(t)
	res, err := r.RunSingle(context.Background(), reviewerTask("say hello"), nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, "reviewer", res.AgentName)
	assert.Equal(t, 5, res.Usage.InputTokens)
	assert.Equal(t, 2, res.Usage.OutputTokens)

	text := res.FinalText()
	assert.Contains(t, text, "task=Task: say hello")
	assert.Contains(t, text, "prompt=Be thorough.")
}

func TestChildEnvironmentHygiene(t *testing.T) {
	t.Setenv("SOME_PARENT_SECRET", "leaky")
	r := testRunner(t)
	res, err := r.RunSingle(context.Background(), reviewerTask("report env"), nil)
	require.NoError(t, err)

	text := res.FinalText()
	_, after, found := strings.Cut(text, "env=")
	require.True(t, found)
	allowed := map[string]bool{"ANTHROPIC_API_KEY": true, "ANTHROPIC_BASE_URL": true, "PWD": true, "SHLVL": true, "_": true, "OLDPWD": true}
	for _, name := range systemEnvVars {
		allowed[name] = true
	}
	for _, name := range strings.Fields(after) {
		assert.True(t, allowed[name], "child saw env var %s", name)
	}
}

func TestRunSingleChildFailure(t *testing.T) {
	r := testRunner(t)
	res, err := r.RunSingle(context.Background(), reviewerTask("please FAIL"), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exit status 3")
	assert.Contains(t, res.Error, "fatal: model refused")
}

func TestRunSingleAborted(t *testing.T) {
	r := testRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := r.RunSingle(ctx, reviewerTask("SLEEP forever"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "aborted", res.Error)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestPromptTempfileRemoved(t *testing.T) {
	r := testRunner(t)
	res, err := r.RunSingle(context.Background(), reviewerTask("hello"), nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	entries, err := os.ReadDir(os.TempDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "warp-prompt-"),
			"leftover prompt dir %s", e.Name())
	}
}

func TestRunParallelOrdering(t *testing.T) {
	r := testRunner(t)
	tasks := []Task{
		{Agent: types.AgentPreset{Name: "a1"}, Task: "one"},
		{Agent: types.AgentPreset{Name: "a2"}, Task: "two"},
		{Agent: types.AgentPreset{Name: "a3"}, Task: "three"},
		{Agent: types.AgentPreset{Name: "a4"}, Task: "four"},
		{Agent: types.AgentPreset{Name: "a5"}, Task: "five"},
	}
	results, err := r.RunParallel(context.Background(), tasks, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, res := range results {
		assert.Equal(t, tasks[i].Agent.Name, res.AgentName)
		assert.True(t, res.Success)
		assert.Contains(t, res.FinalText(), "task=Task: "+tasks[i].Task)
	}
}

func TestRunParallelBoundsConcurrency(t *testing.T) {
	countDir := t.TempDir()
	bin := filepath.Join(t.TempDir(), "fake-warp")
	require.NoError(t, os.WriteFile(bin, []byte(countingChild), 0o755))
	r, err := New(Config{
		Binary:      bin,
		KeyResolver: func(string) (string, error) { return "k", nil },
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{Agent: types.AgentPreset{Name: fmt.Sprintf("a%d", i+1)}, Task: countDir}
	}
	results, err := r.RunParallel(context.Background(), tasks, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, res := range results {
		assert.True(t, res.Success)
	}

	data, err := os.ReadFile(filepath.Join(countDir, "counts"))
	require.NoError(t, err)
	maxActive := 0
	for _, field := range strings.Fields(string(data)) {
		n, err := strconv.Atoi(field)
		require.NoError(t, err)
		if n > maxActive {
			maxActive = n
		}
	}
	assert.LessOrEqual(t, maxActive, 2, "more than two children alive at once")
	assert.Greater(t, maxActive, 1, "children never overlapped")
}

func TestRunParallelCredentialPreResolution(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "fake-warp")
	require.NoError(t, os.WriteFile(bin, []byte(fakeChild), 0o755))
	spawned := 0
	r, err := New(Config{
		Binary: bin,
		KeyResolver: func(provider string) (string, error) {
			if provider == "google" {
				return "", assert.AnError
			}
			spawned++
			return "k", nil
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	tasks := []Task{
		{Agent: types.AgentPreset{Name: "a1", Provider: "anthropic"}, Task: "one"},
		{Agent: types.AgentPreset{Name: "a2", Provider: "google"}, Task: "two"},
	}
	_, err = r.RunParallel(context.Background(), tasks, 2, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a2")
}

func TestRunChainSubstitutesPrevious(t *testing.T) {
	r := testRunner(t)
	tasks := []Task{
		{Agent: types.AgentPreset{Name: "step1"}, Task: "produce a token"},
		{Agent: types.AgentPreset{Name: "step2"}, Task: "summarize [{previous}]"},
	}
	results, err := r.RunChain(context.Background(), tasks, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// step2's task embeds step1's final text
	assert.Contains(t, results[1].FinalText(), "task=Task: produce a token")
}

func TestRunChainStopsOnFailure(t *testing.T) {
	r := testRunner(t)
	tasks := []Task{
		{Agent: types.AgentPreset{Name: "step1"}, Task: "fine"},
		{Agent: types.AgentPreset{Name: "step2"}, Task: "FAIL here"},
		{Agent: types.AgentPreset{Name: "step3"}, Task: "never runs"},
	}
	results, err := r.RunChain(context.Background(), tasks, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")
	assert.Contains(t, err.Error(), "step2")
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestCollectorAccumulation(t *testing.T) {
	c := newCollector("a", nil)

	update := func(text string) *types.Message {
		m := types.Message{Role: types.RoleAssistant, Content: []types.ContentBlock{{Type: types.BlockText, Text: text}}}
		return &m
	}
	c.handle(types.AgentEvent{Type: types.EventMessageUpdate, Message: update("Hel")})
	c.handle(types.AgentEvent{Type: types.EventMessageUpdate, Message: update("Hello")})
	assert.Equal(t, "Hello", c.text)

	c.handle(types.AgentEvent{Type: types.EventToolExecutionStart, ID: "t1", Name: "read"})
	assert.Len(t, c.live, 1)
	c.handle(types.AgentEvent{Type: types.EventToolExecutionEnd, ID: "t1", IsError: true})
	assert.True(t, c.live["t1"].Done)

	usage := types.Usage{InputTokens: 10, OutputTokens: 4}
	final := update("Hello world")
	final.Usage = &usage
	c.handle(types.AgentEvent{Type: types.EventMessageEnd, Message: final})

	// completed tools are dropped from the live map, text resets
	assert.Empty(t, c.live)
	assert.Empty(t, c.text)
	assert.Len(t, c.seen, 1)
	assert.Equal(t, 10, c.usage.InputTokens)

	c.handle(types.AgentEvent{Type: types.EventMessageEnd, Message: final})
	assert.Equal(t, 20, c.usage.InputTokens)
	assert.Len(t, c.messages, 2)

	c.handle(types.AgentEvent{Type: types.EventAgentEnd, StopReason: "stop"})
	assert.Equal(t, "stop", c.stopReason)
}

func TestCollectorThrottlesUpdates(t *testing.T) {
	calls := 0
	c := newCollector("a", func(Progress) { calls++ })
	for i := 0; i < 50; i++ {
		c.handle(types.AgentEvent{Type: types.EventMessageUpdate})
	}
	assert.Equal(t, 1, calls)

	c.lastUpdate = time.Now().Add(-time.Second)
	c.handle(types.AgentEvent{Type: types.EventMessageUpdate})
	assert.Equal(t, 2, calls)
}

func TestCollectorIgnoresUnknownEvents(t *testing.T) {
	c := newCollector("a", nil)
	c.handle(types.AgentEvent{Type: "session_compact"})
	assert.Empty(t, c.messages)
}
