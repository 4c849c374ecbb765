// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor

// EventKind is the kind of an [Event].
type EventKind int

// Event kinds.
const (
	// EventStarted is sent once the VM process was launched.
	EventStarted EventKind = iota
	// EventStopped is sent once the VM process exited.
	EventStopped
	// EventBridgeConnected is sent for each guest bridge connection.
	EventBridgeConnected
	// EventFatal is sent if the VM failed and is not started again.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventBridgeConnected:
		return "bridge connected"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification of a [Supervisor].
type Event struct {
	Kind EventKind
	VM   string

	// ExitCode is the exit code of the process for [EventStopped].
	ExitCode int

	// Err is a [LifecycleError] for [EventFatal].
	Err error
}
