// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyOpen is returned if [Conn.Connect] is called on a connection
	// that is not in unconnected state.
	ErrAlreadyOpen = errors.New("socket already open")

	// ErrClosed is returned on writes to a connection that is not open.
	ErrClosed = errors.New("socket closed")

	// ErrListeningElsewhere is returned if a [Listener] is asked to listen on
	// an address while it is already bound to a different one.
	ErrListeningElsewhere = errors.New("already listening on different address")

	// ErrNotListening is returned by [Listener.Accept] if the listener was
	// never started.
	ErrNotListening = errors.New("listener not listening")
)

// SystemError wraps a non-recoverable OS level error of a socket operation.
type SystemError struct {
	Op  string
	Err error
}

// Error implements the [error] interface.
func (e *SystemError) Error() string {
	return fmt.Sprintf("socket %s: %v", e.Op, e.Err)
}

// Is implements the [errors.Is] interface.
func (*SystemError) Is(other error) bool {
	_, ok := other.(*SystemError)
	return ok
}

// Unwrap implements the [errors.Unwrap] interface.
func (e *SystemError) Unwrap() error {
	return e.Err
}

// Errno returns the underlying error number, if any.
func (e *SystemError) Errno() unix.Errno {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}

	return 0
}

// isDisconnect reports whether err is an orderly end of the stream. Peer
// resets and broken pipes are treated as a disconnect, not as an error.
func isDisconnect(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, unix.EPIPE),
		errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.ENOTCONN):
		return true
	default:
		return false
	}
}
