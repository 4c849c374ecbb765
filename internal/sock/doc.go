// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sock provides event driven byte stream sockets and listeners.
//
// A [Conn] owns a reader and a writer goroutine. Reads never block: they drain
// whatever the reader goroutine has buffered so far. Writes are buffered and
// flushed asynchronously. Consumers wait on [Conn.Readable] and [Conn.Done]
// instead of blocking in Read.
package sock
