// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge_test

import (
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/loliting/VirtualSlides/internal/bridge"
	"github.com/loliting/VirtualSlides/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMachine struct {
	tasks    task.List
	restarts atomic.Int32
}

func newTestMachine(t *testing.T) *testMachine {
	t.Helper()

	tsk, err := task.New("t1", [][]string{{"s1", "s2"}}, []*task.Subtask{
		task.CommandSubtask("s1", "true", nil, 0),
		task.FileSubtask("s2", "/etc/hostname", "demo"),
	})
	require.NoError(t, err)

	return &testMachine{tasks: task.List{tsk}}
}

func (*testMachine) Hostname() string { return "demo" }

func (*testMachine) Motd() string { return "Welcome" }

func (*testMachine) InstallFiles() []bridge.InstallFile {
	return []bridge.InstallFile{
		{Content: "x", Path: "/root/x", UID: 0, GID: 0, Perm: 0o644},
	}
}

func (*testMachine) InitScripts() []bridge.InitScript {
	return []bridge.InitScript{{Content: []byte("#!")}}
}

func (m *testMachine) Tasks() task.List { return m.tasks }

func (m *testMachine) RequestRestart() { m.restarts.Add(1) }

func (*testMachine) TermSize() (int, int) { return 30, 100 }

func TestHandle(t *testing.T) {
	tests := []struct {
		name       string
		request    string
		expected   string
		noResponse bool
	}{
		{
			name:     "hostname",
			request:  `{"type":"getHostname"}`,
			expected: `{"status":"ok","hostname":"demo"}`,
		},
		{
			name:     "legacy hostname",
			request:  `{"type":"hostname"}`,
			expected: `{"status":"ok","hostname":"demo"}`,
		},
		{
			name:     "motd",
			request:  `{"type":"getMotd"}`,
			expected: `{"status":"ok","motd":"Welcome"}`,
		},
		{
			name:    "install files",
			request: `{"type":"getInstallFiles"}`,
			expected: `{"status":"ok","installFiles":[
				{"content":"x","path":"/root/x","uid":0,"gid":0,"perm":420}
			]}`,
		},
		{
			name:     "init scripts",
			request:  `{"type":"getInitScripts"}`,
			expected: `{"status":"ok","initScripts":[{"content":[35,33]}]}`,
		},
		{
			name:     "term size",
			request:  `{"type":"getTermSize"}`,
			expected: `{"status":"ok","termHeight":30,"termWidth":100}`,
		},
		{
			name:     "finish subtask",
			request:  `{"type":"finishSubtask","taskId":"t1","subtaskId":"s1"}`,
			expected: `{"status":"ok"}`,
		},
		{
			name:     "finish unknown task",
			request:  `{"type":"finishSubtask","taskId":"t9","subtaskId":"s1"}`,
			expected: `{"status":"err","error":"unknown task: t9"}`,
		},
		{
			name:     "finish unknown subtask",
			request:  `{"type":"finishSubtask","taskId":"t1","subtaskId":"s9"}`,
			expected: `{"status":"err","error":"unknown subtask: s9"}`,
		},
		{
			name:     "unknown type",
			request:  `{"type":"selfDestruct"}`,
			expected: `{"status":"err","error":"Unknown request type: selfDestruct"}`,
		},
		{
			name:       "missing type",
			request:    `{"taskId":"t1"}`,
			noResponse: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := newTestMachine(t)

			resp, ok := bridge.Handle(machine, []byte(tt.request))
			if tt.noResponse {
				assert.False(t, ok)
				return
			}

			require.True(t, ok)

			actual, err := json.Marshal(resp)
			require.NoError(t, err)

			assert.JSONEq(t, tt.expected, string(actual))
		})
	}
}

func TestHandle_Malformed(t *testing.T) {
	resp, ok := bridge.Handle(newTestMachine(t), []byte(`{"type":`))
	require.True(t, ok)

	assert.Equal(t, bridge.StatusErr, resp["status"])
	assert.NotEmpty(t, resp["error"])
}

func TestHandle_Reboot(t *testing.T) {
	machine := newTestMachine(t)

	resp, ok := bridge.Handle(machine, []byte(`{"type":"reboot"}`))
	require.True(t, ok)

	assert.Equal(t, bridge.StatusOK, resp["status"])
	assert.Equal(t, int32(1), machine.restarts.Load())
}

func TestHandle_FinishSubtaskProgress(t *testing.T) {
	machine := newTestMachine(t)

	_, _ = bridge.Handle(machine, []byte(`{"type":"finishSubtask","taskId":"t1","subtaskId":"s2"}`))
	assert.InDelta(t, 0.5, machine.tasks.Find("t1").Progress(), 1e-9)

	_, _ = bridge.Handle(machine, []byte(`{"type":"finishSubtask","taskId":"t1","subtaskId":"nope"}`))
	assert.InDelta(t, 0.5, machine.tasks.Find("t1").Progress(), 1e-9)
}

func TestHandle_Tasks(t *testing.T) {
	resp, ok := bridge.Handle(newTestMachine(t), []byte(`{"type":"getTasks"}`))
	require.True(t, ok)

	actual, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Status string `json:"status"`
		Tasks  []struct {
			ID       string     `json:"id"`
			Paths    [][]string `json:"paths"`
			Subtasks []struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"subtasks"`
		} `json:"tasks"`
	}

	require.NoError(t, json.Unmarshal(actual, &decoded))
	require.Len(t, decoded.Tasks, 1)
	assert.Equal(t, "t1", decoded.Tasks[0].ID)
	assert.Equal(t, [][]string{{"s1", "s2"}}, decoded.Tasks[0].Paths)
	assert.Equal(t, "command", decoded.Tasks[0].Subtasks[0].Type)
	assert.Equal(t, "file", decoded.Tasks[0].Subtasks[1].Type)
}

func TestHandle_DownloadTest(t *testing.T) {
	resp, ok := bridge.Handle(newTestMachine(t), []byte(`{"type":"downloadTest"}`))
	require.True(t, ok)

	data, isString := resp["data"].(string)
	require.True(t, isString)
	assert.Len(t, data, bridge.DownloadTestSize)
}
