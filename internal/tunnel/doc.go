// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tunnel multiplexes virtio socket style connections over Unix domain
// sockets.
//
// Each tunneled connection starts with a fixed size [Key] sent by the client.
// The listener answers with a single [Reply] byte. Only accepted connections
// carry application data afterwards.
package tunnel
