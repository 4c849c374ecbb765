// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"encoding/json"

	"github.com/loliting/VirtualSlides/internal/task"
)

// Response status values.
const (
	StatusOK  = "ok"
	StatusErr = "err"
)

// Machine is the virtual machine a guest bridge answers for.
type Machine interface {
	Hostname() string
	Motd() string
	InstallFiles() []InstallFile
	InitScripts() []InitScript
	Tasks() task.List

	// RequestRestart asks the supervisor to restart the machine once the
	// guest rebooted.
	RequestRestart()

	// TermSize returns the console size of the attached viewers.
	TermSize() (height, width int)
}

// InstallFile is a file the guest installs on boot.
type InstallFile struct {
	Content string `json:"content"`
	Path    string `json:"path"`
	UID     uint32 `json:"uid"`
	GID     uint32 `json:"gid"`
	Perm    uint32 `json:"perm"`
}

// InitScript is an executable the guest runs on boot.
type InitScript struct {
	Content []byte
}

// MarshalJSON implements [json.Marshaler]. The content is encoded as list of
// byte values, as the guest expects raw bytes instead of base64.
func (s InitScript) MarshalJSON() ([]byte, error) {
	content := make([]uint16, len(s.Content))
	for idx, b := range s.Content {
		content[idx] = uint16(b)
	}

	return json.Marshal(struct { //nolint:wrapcheck
		Content []uint16 `json:"content"`
	}{content})
}

// Request is a decoded guest request.
type Request struct {
	Type      *string `json:"type"`
	TaskID    string  `json:"taskId"`
	SubtaskID string  `json:"subtaskId"`
}

// Response is the JSON object sent back for each request. It always carries
// "status" and on failure "error".
type Response map[string]any

// OK returns a successful [Response].
func OK() Response {
	return Response{"status": StatusOK}
}

// Failure returns a failed [Response] with the given message.
func Failure(msg string) Response {
	return Response{"status": StatusErr, "error": msg}
}

// With adds a field to the response and returns it.
func (r Response) With(key string, value any) Response {
	r[key] = value
	return r
}
