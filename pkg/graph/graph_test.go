// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWavesSimpleChain(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, waves)
}

func TestWavesDiamond(t *testing.T) {
	g := New()
	for _, n := range []string{"top", "left", "right", "bottom"} {
		g.AddNode(n)
	}
	require.NoError(t, g.AddEdge("top", "left"))
	require.NoError(t, g.AddEdge("top", "right"))
	require.NoError(t, g.AddEdge("left", "bottom"))
	require.NoError(t, g.AddEdge("right", "bottom"))

	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"top"}, {"left", "right"}, {"bottom"}}, waves)
}

func TestWavesDeterministic(t *testing.T) {
	g := New()
	for _, n := range []string{"zeta", "alpha", "mid", "omega"} {
		g.AddNode(n)
	}
	require.NoError(t, g.AddEdge("alpha", "mid"))

	first, err := g.Waves()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := g.Waves()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Lexicographic within a wave.
	assert.Equal(t, []string{"alpha", "omega", "zeta"}, first[0])
}

func TestWavesEveryNodeExactlyOnce(t *testing.T) {
	g := New()
	nodes := []string{"a", "b", "c", "d", "e"}
	for _, n := range nodes {
		g.AddNode(n)
	}
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", "e"))

	waves, err := g.Waves()
	require.NoError(t, err)
	seen := map[string]int{}
	for _, w := range waves {
		for _, n := range w {
			seen[n]++
		}
	}
	for _, n := range nodes {
		assert.Equal(t, 1, seen[n], n)
	}
}

func TestWavesCycleDetection(t *testing.T) {
	g := New()
	for _, n := range []string{"A", "B", "C"} {
		g.AddNode(n)
	}
	require.NoError(t, g.AddEdge("A", "B"))
	require.NoError(t, g.AddEdge("B", "C"))
	require.NoError(t, g.AddEdge("C", "A"))

	_, err := g.Waves()
	require.Error(t, err)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "B", "C"}, cycle.Nodes)
}

func TestWavesPartialCycle(t *testing.T) {
	g := New()
	for _, n := range []string{"free", "x", "y"} {
		g.AddNode(n)
	}
	require.NoError(t, g.AddEdge("x", "y"))
	require.NoError(t, g.AddEdge("y", "x"))

	_, err := g.Waves()
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"x", "y"}, cycle.Nodes)
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := New()
	g.AddNode("a")
	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))
}

func TestFromWaves(t *testing.T) {
	g := FromWaves(
		[]string{"scan", "lint", "summarize", "extra"},
		[][]string{{"scan", "lint"}, {"summarize"}},
	)
	waves, err := g.Waves()
	require.NoError(t, err)
	// extra was not in the wave list, so it lands after the last wave.
	assert.Equal(t, [][]string{{"lint", "scan"}, {"summarize"}, {"extra"}}, waves)
}

func TestFromWavesIgnoresUnselected(t *testing.T) {
	g := FromWaves([]string{"a", "b"}, [][]string{{"a", "ghost"}, {"b"}})
	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, waves)
}

func TestFromWavesNilWaveList(t *testing.T) {
	g := FromWaves([]string{"b", "a"}, nil)
	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, waves)
}

func TestFromKnownEdges(t *testing.T) {
	edges := map[string][]string{
		"report": {"scan", "audit"},
		"audit":  {"scan"},
	}
	g := FromKnownEdges([]string{"scan", "report"}, edges)
	waves, err := g.Waves()
	require.NoError(t, err)
	// audit is not selected, so report only depends on scan.
	assert.Equal(t, [][]string{{"scan"}, {"report"}}, waves)
}
