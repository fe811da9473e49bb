// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	kind  string
	value int
}

func newTestStream() *Stream[testEvent, int] {
	return New(
		func(e testEvent) bool { return e.kind == "end" },
		func(e testEvent) int { return e.value },
	)
}

func TestEventsBufferBeforeSubscription(t *testing.T) {
	s := newTestStream()
	s.Push(testEvent{kind: "a", value: 1})
	s.Push(testEvent{kind: "b", value: 2})
	s.Push(testEvent{kind: "end", value: 42})

	var got []testEvent
	for ev := range s.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].kind)
	assert.Equal(t, "b", got[1].kind)
	assert.Equal(t, "end", got[2].kind)
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	s := newTestStream()
	s.Push(testEvent{kind: "end", value: 1})
	s.Push(testEvent{kind: "end", value: 2})
	s.Push(testEvent{kind: "late", value: 3})

	terminals := 0
	total := 0
	for ev := range s.Events() {
		total++
		if ev.kind == "end" {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, 1, total)

	result, err := s.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestResultWithoutIteration(t *testing.T) {
	s := newTestStream()
	go func() {
		s.Push(testEvent{kind: "a"})
		s.Push(testEvent{kind: "end", value: 7})
	}()
	result, err := s.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestResultContextCancelled(t *testing.T) {
	s := newTestStream()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Result(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOrderingPreserved(t *testing.T) {
	s := newTestStream()
	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			s.Push(testEvent{kind: "ev", value: i})
		}
		s.Push(testEvent{kind: "end", value: n})
	}()

	next := 0
	for ev := range s.Events() {
		if ev.kind == "ev" {
			require.Equal(t, next, ev.value)
			next++
		}
	}
	assert.Equal(t, n, next)
}

func TestAbortDeliversBufferedThenCloses(t *testing.T) {
	s := newTestStream()
	s.Push(testEvent{kind: "a"})
	s.Abort(nil)
	s.Push(testEvent{kind: "ignored"})

	var got []testEvent
	for ev := range s.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].kind)

	_, err := s.Result(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
}

func TestAbortWithError(t *testing.T) {
	s := newTestStream()
	boom := errors.New("boom")
	s.Abort(boom)
	_, err := s.Result(context.Background())
	assert.ErrorIs(t, err, boom)
}
