// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package stream provides a typed, terminating event stream between a
// producer (an engine) and a single consumer (UI or test). The producer
// pushes events; the consumer ranges over Events until the stream emits its
// terminal event, whose payload is also exposed through Result.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrAborted is returned by Result when the stream was aborted before its
// terminal event.
var ErrAborted = errors.New("stream aborted")

// Stream is a terminating event stream. E is the event type, R the payload
// extracted from the terminal event. Events buffer without bound until the
// first iteration, so pushing never drops events even when no consumer is
// attached yet. Exactly one terminal event is delivered; pushes after
// termination are ignored.
//
// Single-producer, single-consumer. Multiple consumers are not supported.
type Stream[E any, R any] struct {
	isTerminal func(E) bool
	extract    func(E) R

	mu     sync.Mutex
	queue  []E
	sealed bool // terminal event queued or Abort called; no more pushes

	wake chan struct{}
	out  chan E
	pump sync.Once

	done   chan struct{}
	result R
	err    error
}

// New creates a stream. isTerminal identifies the terminal event; extract
// turns it into the stream's result.
func New[E any, R any](isTerminal func(E) bool, extract func(E) R) *Stream[E, R] {
	return &Stream[E, R]{
		isTerminal: isTerminal,
		extract:    extract,
		wake:       make(chan struct{}, 1),
		out:        make(chan E),
		done:       make(chan struct{}),
	}
}

// Push appends an event. If the event is terminal it resolves the result and
// seals the stream. Pushes after sealing are ignored.
func (s *Stream[E, R]) Push(ev E) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if s.isTerminal(ev) {
		s.sealed = true
		s.result = s.extract(ev)
		close(s.done)
	}
	s.mu.Unlock()
	s.notify()
}

// Abort seals the stream without a terminal event. Result returns err
// (ErrAborted when nil). Already-queued events are still delivered.
func (s *Stream[E, R]) Abort(err error) {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	s.sealed = true
	if err == nil {
		err = ErrAborted
	}
	s.err = err
	close(s.done)
	s.mu.Unlock()
	s.notify()
}

// Events returns the consumer channel. The channel closes after the terminal
// event (or abort) once all buffered events have been delivered.
func (s *Stream[E, R]) Events() <-chan E {
	s.pump.Do(func() { go s.run() })
	return s.out
}

// Result blocks until the stream terminates and returns the terminal
// payload. It does not consume events; a caller that never iterates Events
// still resolves.
func (s *Stream[E, R]) Result(ctx context.Context) (R, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, s.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (s *Stream[E, R]) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run drains the queue into the consumer channel, preserving push order.
func (s *Stream[E, R]) run() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.sealed {
				s.mu.Unlock()
				close(s.out)
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.out <- ev
	}
}
