// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package task

import "fmt"

// Type is the kind of check a [Subtask] performs in the guest.
type Type string

const (
	// TypeCommand subtasks run a command and compare its exit code.
	TypeCommand Type = "command"
	// TypeFile subtasks compare the content of a file.
	TypeFile Type = "file"
)

// MarshalText implements [encoding.TextMarshaler].
func (t Type) MarshalText() ([]byte, error) {
	switch t {
	case TypeCommand, TypeFile:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, string(t))
	}
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (t *Type) UnmarshalText(text []byte) error {
	switch Type(text) {
	case TypeCommand, TypeFile:
		*t = Type(text)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, string(text))
	}
}

// Subtask is a single check of a [Task]. Depending on the type, either the
// command or the file fields are used.
type Subtask struct {
	ID   string
	Type Type

	Command  string
	Args     []string
	ExitCode int

	Path    string
	Content string

	done bool
}

// CommandSubtask returns a new [Subtask] of [TypeCommand].
func CommandSubtask(id, command string, args []string, exitCode int) *Subtask {
	return &Subtask{
		ID:       id,
		Type:     TypeCommand,
		Command:  command,
		Args:     args,
		ExitCode: exitCode,
	}
}

// FileSubtask returns a new [Subtask] of [TypeFile].
func FileSubtask(id, path, content string) *Subtask {
	return &Subtask{
		ID:      id,
		Type:    TypeFile,
		Path:    path,
		Content: content,
	}
}

type subtaskJSON struct {
	ID   string `json:"id"`
	Done bool   `json:"done"`
	Type Type   `json:"type"`

	Command  *string   `json:"command,omitempty"`
	Args     *[]string `json:"args,omitempty"`
	ExitCode *int      `json:"exitCode,omitempty"`

	Path    *string `json:"path,omitempty"`
	Content *string `json:"content,omitempty"`
}

// toJSON returns the wire representation. Must be called with the owning
// task's lock held.
func (s *Subtask) toJSON() subtaskJSON {
	out := subtaskJSON{
		ID:   s.ID,
		Done: s.done,
		Type: s.Type,
	}

	switch s.Type {
	case TypeCommand:
		args := s.Args
		if args == nil {
			args = []string{}
		}

		out.Command = &s.Command
		out.Args = &args
		out.ExitCode = &s.ExitCode
	case TypeFile:
		out.Path = &s.Path
		out.Content = &s.Content
	}

	return out
}
