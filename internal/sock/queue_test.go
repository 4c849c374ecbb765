// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock_test

import (
	"testing"

	"github.com/loliting/VirtualSlides/internal/sock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	var queue sock.Queue[int]

	_, ok := queue.Pop()
	assert.False(t, ok, "empty queue")

	for i := range 4 {
		queue.Push(i)
	}

	require.Equal(t, 4, queue.Len())

	assert.True(t, queue.Remove(2), "remove queued")
	assert.False(t, queue.Remove(2), "remove twice")

	for _, expected := range []int{0, 1, 3} {
		actual, ok := queue.Pop()
		require.True(t, ok)
		assert.Equal(t, expected, actual)
	}

	assert.False(t, queue.Remove(0), "remove dequeued")
	assert.Equal(t, 0, queue.Len())
}

func TestQueue_Drain(t *testing.T) {
	var queue sock.Queue[string]

	queue.Push("a")
	queue.Push("b")

	assert.Equal(t, []string{"a", "b"}, queue.Drain())
	assert.Empty(t, queue.Drain())
}
