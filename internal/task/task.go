// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package task implements the objectives a guest reports progress on.
//
// A [Task] consists of [Subtask]s that are finished by the guest. Paths are
// ordered lists of subtask IDs. Each path is an alternative way to complete
// the task, so the progress of a task is the best progress of any path.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrUnknownTask    = errors.New("unknown task")
	ErrUnknownSubtask = errors.New("unknown subtask")
	ErrInvalidType    = errors.New("invalid subtask type")
)

// Task is a set of subtasks with alternative completion paths. It is safe
// for concurrent use.
type Task struct {
	id    string
	paths [][]string

	mu       sync.Mutex
	subtasks []*Subtask
}

// New creates a new [Task]. It fails if a path refers to an unknown subtask.
func New(id string, paths [][]string, subtasks []*Subtask) (*Task, error) {
	task := &Task{
		id:       id,
		paths:    paths,
		subtasks: subtasks,
	}

	for _, path := range paths {
		for _, subtaskID := range path {
			if task.subtask(subtaskID) == nil {
				return nil, fmt.Errorf("task %s path: %w: %s",
					id, ErrUnknownSubtask, subtaskID)
			}
		}
	}

	return task, nil
}

// ID returns the task ID.
func (t *Task) ID() string {
	return t.id
}

func (t *Task) subtask(id string) *Subtask {
	idx := slices.IndexFunc(t.subtasks, func(s *Subtask) bool {
		return s.ID == id
	})
	if idx == -1 {
		return nil
	}

	return t.subtasks[idx]
}

// Finish marks the given subtask as done. Finishing a subtask twice is not an
// error.
func (t *Task) Finish(subtaskID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	subtask := t.subtask(subtaskID)
	if subtask == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSubtask, subtaskID)
	}

	subtask.done = true

	return nil
}

// Progress returns the completion ratio in [0, 1] of the best path.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best float64

	for _, path := range t.paths {
		if len(path) == 0 {
			continue
		}

		done := 0

		for _, id := range path {
			if t.subtask(id).done {
				done++
			}
		}

		best = max(best, float64(done)/float64(len(path)))
	}

	return best
}

// Done reports whether any path is fully completed.
func (t *Task) Done() bool {
	return t.Progress() == 1
}

// MarshalJSON implements [json.Marshaler].
func (t *Task) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths := t.paths
	if paths == nil {
		paths = [][]string{}
	}

	subtasks := make([]subtaskJSON, 0, len(t.subtasks))
	for _, s := range t.subtasks {
		subtasks = append(subtasks, s.toJSON())
	}

	return json.Marshal(struct { //nolint:wrapcheck
		ID       string        `json:"id"`
		Paths    [][]string    `json:"paths"`
		Subtasks []subtaskJSON `json:"subtasks"`
	}{
		ID:       t.id,
		Paths:    paths,
		Subtasks: subtasks,
	})
}

// List is an ordered collection of tasks.
type List []*Task

// Find returns the task with the given ID or nil.
func (l List) Find(id string) *Task {
	idx := slices.IndexFunc(l, func(t *Task) bool { return t.id == id })
	if idx == -1 {
		return nil
	}

	return l[idx]
}

// Finish marks the given subtask of the given task as done. Nothing is
// changed if either cannot be resolved.
func (l List) Finish(taskID, subtaskID string) error {
	task := l.Find(taskID)
	if task == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	return task.Finish(subtaskID)
}
