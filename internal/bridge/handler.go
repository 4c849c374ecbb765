// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/loliting/VirtualSlides/internal/metrics"
	"github.com/loliting/VirtualSlides/internal/task"
)

// Request types.
const (
	TypeReboot          = "reboot"
	TypeGetHostname     = "getHostname"
	TypeGetMotd         = "getMotd"
	TypeGetInstallFiles = "getInstallFiles"
	TypeGetInitScripts  = "getInitScripts"
	TypeGetTasks        = "getTasks"
	TypeFinishSubtask   = "finishSubtask"
	TypeGetTermSize     = "getTermSize"
	TypeDownloadTest    = "downloadTest"
)

// DownloadTestSize is the size of the bandwidth probe payload.
const DownloadTestSize = 16 << 20

// Aliases used by older guest tools.
var legacyTypes = map[string]string{
	"hostname":      TypeGetHostname,
	"download-test": TypeDownloadTest,
}

// HandlerFunc answers a single request.
type HandlerFunc func(machine Machine, req Request) Response

var handlers = map[string]HandlerFunc{
	TypeReboot: func(m Machine, _ Request) Response {
		m.RequestRestart()
		return OK()
	},
	TypeGetHostname: func(m Machine, _ Request) Response {
		return OK().With("hostname", m.Hostname())
	},
	TypeGetMotd: func(m Machine, _ Request) Response {
		return OK().With("motd", m.Motd())
	},
	TypeGetInstallFiles: func(m Machine, _ Request) Response {
		return OK().With("installFiles", nonNil(m.InstallFiles()))
	},
	TypeGetInitScripts: func(m Machine, _ Request) Response {
		return OK().With("initScripts", nonNil(m.InitScripts()))
	},
	TypeGetTasks: func(m Machine, _ Request) Response {
		return OK().With("tasks", nonNil([]*task.Task(m.Tasks())))
	},
	TypeFinishSubtask: func(m Machine, req Request) Response {
		err := m.Tasks().Finish(req.TaskID, req.SubtaskID)
		if err != nil {
			return Failure(err.Error())
		}

		return OK()
	},
	TypeGetTermSize: func(m Machine, _ Request) Response {
		height, width := m.TermSize()

		return OK().
			With("termHeight", height).
			With("termWidth", width)
	},
	TypeDownloadTest: func(_ Machine, _ Request) Response {
		return OK().With("data", downloadTestData())
	},
}

var downloadTestData = sync.OnceValue(func() string {
	return strings.Repeat("0", DownloadTestSize)
})

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}

// Handle decodes a single record and returns the response to send. It
// returns false if no response must be sent.
func Handle(machine Machine, record []byte) (Response, bool) {
	var req Request

	err := json.Unmarshal(record, &req)
	if err != nil {
		slog.Debug("Malformed guest request", slog.Any("error", err))
		metrics.Get().RecordBridgeRequest("", StatusErr)

		return Failure(err.Error()), true
	}

	// Valid JSON without type is not answered.
	if req.Type == nil {
		slog.Debug("Guest request without type ignored")
		return nil, false
	}

	requestType := *req.Type
	if alias, exists := legacyTypes[requestType]; exists {
		requestType = alias
	}

	handler, exists := handlers[requestType]
	if !exists {
		slog.Debug("Unknown guest request", slog.String("type", *req.Type))
		metrics.Get().RecordBridgeRequest("unknown", StatusErr)

		return Failure("Unknown request type: " + *req.Type), true
	}

	resp := handler(machine, req)

	status, _ := resp["status"].(string)
	metrics.Get().RecordBridgeRequest(requestType, status)

	slog.Debug("Guest request served",
		slog.String("type", requestType),
		slog.String("status", status))

	return resp, true
}
