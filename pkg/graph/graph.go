// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package graph provides the dependency graph that orders agents and
// workflow steps into execution waves.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle. Nodes lists every node that could
// not be scheduled, sorted lexicographically.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving: %s", strings.Join(e.Nodes, ", "))
}

// DependencyGraph is a set of named nodes plus predecessor edges. The zero
// value is not usable; call New.
type DependencyGraph struct {
	nodes map[string]bool
	// preds maps node -> set of predecessor names
	preds map[string]map[string]bool
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]bool),
		preds: make(map[string]map[string]bool),
	}
}

// AddNode registers a node. Adding an existing node is a no-op.
func (g *DependencyGraph) AddNode(name string) {
	g.nodes[name] = true
}

// AddEdge records that to depends on from. Both endpoints must already be
// registered.
func (g *DependencyGraph) AddEdge(from, to string) error {
	if !g.nodes[from] {
		return fmt.Errorf("unknown node %q in edge %s -> %s", from, from, to)
	}
	if !g.nodes[to] {
		return fmt.Errorf("unknown node %q in edge %s -> %s", to, from, to)
	}
	if g.preds[to] == nil {
		g.preds[to] = make(map[string]bool)
	}
	g.preds[to][from] = true
	return nil
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}

// Waves partitions the graph into execution waves by iterative predecessor
// elimination: each wave contains every remaining node whose predecessors
// have all been emitted, sorted lexicographically. An empty iteration with
// nodes remaining means a cycle; the error names the remaining nodes.
func (g *DependencyGraph) Waves() ([][]string, error) {
	remaining := make(map[string]bool, len(g.nodes))
	for n := range g.nodes {
		remaining[n] = true
	}
	done := make(map[string]bool, len(g.nodes))

	var waves [][]string
	for len(remaining) > 0 {
		var wave []string
		for n := range remaining {
			if g.ready(n, done) {
				wave = append(wave, n)
			}
		}
		if len(wave) == 0 {
			stuck := make([]string, 0, len(remaining))
			for n := range remaining {
				stuck = append(stuck, n)
			}
			sort.Strings(stuck)
			return nil, &CycleError{Nodes: stuck}
		}
		sort.Strings(wave)
		for _, n := range wave {
			done[n] = true
			delete(remaining, n)
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// ready reports whether every predecessor of n is already done.
func (g *DependencyGraph) ready(n string, done map[string]bool) bool {
	for p := range g.preds[n] {
		if !done[p] {
			return false
		}
	}
	return true
}

// FromWaves builds a graph from a flat selection plus an optional
// pre-partitioned wave list: every node in wave k depends on every selected
// node in wave k-1. Selected names missing from the wave list form an
// implicit final wave. A nil wave list yields a single-wave graph.
func FromWaves(selected []string, waves [][]string) *DependencyGraph {
	g := New()
	isSelected := make(map[string]bool, len(selected))
	for _, n := range selected {
		isSelected[n] = true
		g.AddNode(n)
	}

	var prev []string
	placed := make(map[string]bool)
	for _, wave := range waves {
		var current []string
		for _, n := range wave {
			if !isSelected[n] {
				continue
			}
			placed[n] = true
			current = append(current, n)
			for _, p := range prev {
				_ = g.AddEdge(p, n)
			}
		}
		if len(current) > 0 {
			prev = current
		}
	}
	// Unplaced selections run after the last populated wave.
	for _, n := range selected {
		if placed[n] {
			continue
		}
		for _, p := range prev {
			_ = g.AddEdge(p, n)
		}
	}
	return g
}

// FromKnownEdges builds a graph from a selection and a registry of
// well-known edges (node -> its dependencies). An edge applies only when
// both endpoints are selected.
func FromKnownEdges(selected []string, edges map[string][]string) *DependencyGraph {
	g := New()
	isSelected := make(map[string]bool, len(selected))
	for _, n := range selected {
		isSelected[n] = true
		g.AddNode(n)
	}
	for node, deps := range edges {
		if !isSelected[node] {
			continue
		}
		for _, dep := range deps {
			if isSelected[dep] {
				_ = g.AddEdge(dep, node)
			}
		}
	}
	return g
}
