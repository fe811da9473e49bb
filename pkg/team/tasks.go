// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package team

import (
	"regexp"
	"strings"

	"github.com/teradata-labs/warp/pkg/types"
)

// maxTrackedTasks caps the per-agent task map.
const maxTrackedTasks = 100

// DefaultTaskToolPrefix identifies the task-manager tool family.
const DefaultTaskToolPrefix = "task"

// TaskProgress summarizes one agent's task-manager state.
type TaskProgress struct {
	// Total tasks seen
	Total int `json:"total"`

	// Completed tasks (status done or cancelled)
	Completed int `json:"completed"`

	// ActiveTaskTitle is the most recently started unfinished task
	ActiveTaskTitle string `json:"activeTaskTitle,omitempty"`
}

// Task-manager output patterns. The tool family reports mutations as plain
// text, one task per line, so multiline patterns cover the bulk variants
// for free.
var (
	taskCreated = regexp.MustCompile(`(?m)^(?:Created|Added) task #?([\w-]+): (.+)$`)
	taskUpdated = regexp.MustCompile(`(?m)^(?:Updated|Marked) task #?([\w-]+)(?:\s+as|\s+to|: status =?)\s+([\w-]+)`)
	taskDeleted = regexp.MustCompile(`(?m)^(?:Deleted|Removed) task #?([\w-]+)`)
)

type trackedTask struct {
	title  string
	status string
}

// taskTracker folds task-manager tool results into a progress summary. It
// is owned by a single agent's event path; no locking.
type taskTracker struct {
	prefix string
	byID   map[string]string // tool call id -> tool name
	tasks  map[string]*trackedTask
	order  []string
	active string
}

func newTaskTracker(prefix string) *taskTracker {
	if prefix == "" {
		prefix = DefaultTaskToolPrefix
	}
	return &taskTracker{
		prefix: prefix,
		byID:   make(map[string]string),
		tasks:  make(map[string]*trackedTask),
	}
}

// observe consumes one agent event and reports whether the task state
// changed. Parse failures leave the last known state intact.
func (t *taskTracker) observe(ev types.AgentEvent) (TaskProgress, bool) {
	switch ev.Type {
	case types.EventToolExecutionStart:
		if strings.HasPrefix(ev.Name, t.prefix) {
			t.byID[ev.ID] = ev.Name
		}
		return TaskProgress{}, false

	case types.EventToolExecutionEnd:
		_, tracked := t.byID[ev.ID]
		delete(t.byID, ev.ID)
		if !tracked || ev.IsError {
			return TaskProgress{}, false
		}
		if t.parse(ev.Result) {
			return t.progress(), true
		}
		return TaskProgress{}, false
	}
	return TaskProgress{}, false
}

// parse applies the mutation patterns to one tool result. Returns whether
// anything changed.
func (t *taskTracker) parse(text string) bool {
	changed := false
	for _, m := range taskCreated.FindAllStringSubmatch(text, -1) {
		id, title := m[1], strings.TrimSpace(m[2])
		if _, ok := t.tasks[id]; ok {
			continue
		}
		if len(t.tasks) >= maxTrackedTasks {
			continue
		}
		t.tasks[id] = &trackedTask{title: title, status: "pending"}
		t.order = append(t.order, id)
		changed = true
	}
	for _, m := range taskUpdated.FindAllStringSubmatch(text, -1) {
		id, status := m[1], strings.ToLower(m[2])
		task, ok := t.tasks[id]
		if !ok || task.status == status {
			continue
		}
		task.status = status
		if status == "in_progress" {
			t.active = id
		}
		changed = true
	}
	for _, m := range taskDeleted.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if _, ok := t.tasks[id]; !ok {
			continue
		}
		delete(t.tasks, id)
		for i, o := range t.order {
			if o == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		if t.active == id {
			t.active = ""
		}
		changed = true
	}
	return changed
}

func completed(status string) bool {
	return status == "done" || status == "cancelled"
}

func (t *taskTracker) progress() TaskProgress {
	p := TaskProgress{Total: len(t.tasks)}
	for _, task := range t.tasks {
		if completed(task.status) {
			p.Completed++
		}
	}
	if task, ok := t.tasks[t.active]; ok && !completed(task.status) {
		p.ActiveTaskTitle = task.title
	} else {
		// fall back to the first unfinished task in creation order
		for _, id := range t.order {
			if task := t.tasks[id]; task != nil && !completed(task.status) {
				p.ActiveTaskTitle = task.title
				break
			}
		}
	}
	return p
}
