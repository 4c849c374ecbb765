// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"slices"
	"sync"
)

// Queue is a concurrency safe FIFO queue of pending connections.
//
// Elements can be removed by identity, so a connection that closes while
// still pending can drop out of the queue. Dequeue and removal are mutually
// exclusive: an element is handed out at most once.
type Queue[T comparable] struct {
	mu    sync.Mutex
	items []T
}

// Push appends an element.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
}

// Pop removes and returns the oldest element.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T

	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

// Remove removes the given element. It returns false if it is not queued.
func (q *Queue[T]) Remove(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := slices.Index(q.items, item)
	if idx == -1 {
		return false
	}

	q.items = slices.Delete(q.items, idx, idx+1)

	return true
}

// Drain removes and returns all elements.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil

	return items
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
