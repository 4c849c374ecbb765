// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tunnel

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrShortKey is returned if a key is decoded from too few bytes.
	ErrShortKey = errors.New("short connection key")

	// ErrConnectionRefused is returned if the listener rejects the key or
	// closes the connection without answering.
	ErrConnectionRefused = fmt.Errorf("tunnel handshake: %w", unix.ECONNREFUSED)

	// ErrHandshakeTimeout is returned if the listener does not answer in
	// time.
	ErrHandshakeTimeout = fmt.Errorf("tunnel handshake: %w", unix.ETIMEDOUT)

	// ErrClosed is returned by [Listener.Accept] once the listener is closed.
	ErrClosed = errors.New("tunnel listener closed")

	// ErrNotListening is returned by [Listener.Accept] if the listener was
	// never started.
	ErrNotListening = errors.New("tunnel listener not listening")
)
