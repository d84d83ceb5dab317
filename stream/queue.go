// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/go-lpc/tp3/jsonimage"
	"github.com/go-lpc/tp3/spim"
)

// ErrClosed is returned when pushing to, or popping from, a closed queue.
var ErrClosed = errors.New("stream: queue closed")

// Queue is a concurrency-safe queue with blocking pops.
//
// A FIFO queue returns items in insertion order.
// A LIFO queue returns the most recent item first and, when bounded,
// drops its oldest item once full.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	depth  int // maximum number of items, 0 for unbounded
	lifo   bool
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewFIFO returns a new, unbounded, first-in first-out queue.
func NewFIFO[T any]() *Queue[T] {
	return newQueue[T](0, false)
}

// NewLIFO returns a new last-in first-out queue holding at most depth items.
// A depth of 0 means unbounded.
func NewLIFO[T any](depth int) *Queue[T] {
	return newQueue[T](depth, true)
}

func newQueue[T any](depth int, lifo bool) *Queue[T] {
	return &Queue[T]{
		depth: depth,
		lifo:  lifo,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Push adds v to the queue.
// Push reports whether an older item was dropped to make room for v.
func (q *Queue[T]) Push(v T) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}
	if q.depth > 0 && len(q.items) >= q.depth {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, v)
	q.signal()
	return dropped, nil
}

// TryPop removes and returns the next item of the queue, if any.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

func (q *Queue[T]) pop() (T, bool) {
	var zero T
	n := len(q.items)
	if n == 0 {
		return zero, false
	}

	var v T
	switch {
	case q.lifo:
		v = q.items[n-1]
		q.items[n-1] = zero
		q.items = q.items[:n-1]
	default:
		v = q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
	}
	if len(q.items) > 0 {
		// let other waiting consumers know.
		q.signal()
	}
	return v, true
}

// Pop removes and returns the next item of the queue, blocking until
// one is available, the queue is closed or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		v, ok := q.pop()
		closed := q.closed
		q.mu.Unlock()

		switch {
		case ok:
			return v, nil
		case closed:
			return zero, ErrClosed
		}

		select {
		case <-q.wake:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close closes the queue, discarding its items and waking up all
// blocked consumers. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// DefaultFrameDepth is the default depth of the frame queue.
const DefaultFrameDepth = 4

// Queues are the three queues filled by a Reader during a session.
type Queues struct {
	Frames *Queue[jsonimage.RawFrame] // last frames, most recent first
	Events *Queue[spim.Block]         // hit blocks, in stream order
	Edges  *Queue[spim.Trigger]       // line triggers, in stream order
}

// NewQueues returns a new set of empty queues, with a frame queue
// holding at most depth frames.
func NewQueues(depth int) *Queues {
	if depth <= 0 {
		depth = DefaultFrameDepth
	}
	return &Queues{
		Frames: NewLIFO[jsonimage.RawFrame](depth),
		Events: NewFIFO[spim.Block](),
		Edges:  NewFIFO[spim.Trigger](),
	}
}

// Close closes all queues.
func (qs *Queues) Close() {
	qs.Frames.Close()
	qs.Events.Close()
	qs.Edges.Close()
}

// Trigger pops the next line trigger, blocking until one is available.
func (qs *Queues) Trigger(ctx context.Context) (spim.Trigger, error) {
	return qs.Edges.Pop(ctx)
}

// Block pops the next hit block, if any.
func (qs *Queues) Block() (spim.Block, bool) {
	return qs.Events.TryPop()
}

var _ spim.Source = (*Queues)(nil)
