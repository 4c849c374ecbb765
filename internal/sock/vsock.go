// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"log/slog"
	"strconv"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"
)

// ListenVsock binds the listener to the given virtio socket port of any local
// context ID and starts accepting connections. Guests with a vhost-vsock
// device reach it at the host context ID.
//
// Listening again on the same port is a no-op. Listening on a different
// address while already listening fails with [ErrListeningElsewhere].
func (l *Listener) ListenVsock(port uint32) error {
	bound := "vsock:" + strconv.FormatUint(uint64(port), 10)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return l.rebindLocked(bound)
	}

	ln, err := vsock.ListenContextID(unix.VMADDR_CID_ANY, port, nil)
	if err != nil {
		return &SystemError{Op: "listen", Err: err}
	}

	l.startLocked(ln, bound, ln.Addr().String())

	slog.Debug("Vsock listening", slog.Any("port", port))

	return nil
}
