// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package qemu composes and runs the QEMU processes backing the presentation
// VMs. It expects the required QEMU binary to be present on the system.
//
// The guest console is attached to a Unix domain socket QEMU connects to as
// a client. The guest's virtio socket device is a vhost-vsock device of the
// host kernel, so guest connections to the host arrive on host virtio socket
// listeners.
package qemu
