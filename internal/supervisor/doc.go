// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package supervisor runs a presentation VM and keeps it alive.
//
// A [Supervisor] owns the QEMU process of a single VM definition, the console
// socket the guest console is attached to and the tunnel listener the guest
// bridge is served on. The guest reaches the listener through its vsock
// device on the port equal to its guest id, while host side clients use the
// tunnel socket. Guests that exit before their bridge ever connected
// are restarted up to [MaxRetries] times before the failure is reported as
// fatal.
//
// All lifecycle state is owned by a single goroutine per supervisor. State
// transitions are computed by a pure function of the current state and the
// event, see [State].
package supervisor
