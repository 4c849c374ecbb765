// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchFailed is returned if the VM process could not be launched.
	ErrLaunchFailed = errors.New("launch failed")

	// ErrRetriesExhausted is reported if the guest crashed [MaxRetries] times
	// in a row without its bridge ever connecting.
	ErrRetriesExhausted = errors.New("crash retries exhausted")

	// ErrClosed is returned for operations on a closed [Supervisor].
	ErrClosed = errors.New("supervisor closed")

	// ErrNotRunning is returned if an operation requires a running VM.
	ErrNotRunning = errors.New("vm not running")
)

// LifecycleError is a fatal error of a VM.
type LifecycleError struct {
	VM       string
	Err      error
	ExitCode int
}

// Error implements the [error] interface.
func (e *LifecycleError) Error() string {
	if errors.Is(e.Err, ErrRetriesExhausted) {
		return fmt.Sprintf("vm %s: %v (last exit code %d)", e.VM, e.Err, e.ExitCode)
	}

	return fmt.Sprintf("vm %s: %v", e.VM, e.Err)
}

// Is implements the [errors.Is] interface.
func (*LifecycleError) Is(other error) bool {
	_, ok := other.(*LifecycleError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}
