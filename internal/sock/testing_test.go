// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock_test

import (
	"context"
	"testing"
	"time"

	"github.com/loliting/VirtualSlides/internal/sock"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func listen(t *testing.T) *sock.Listener {
	t.Helper()

	listener := &sock.Listener{}
	require.NoError(t, listener.Listen(sock.TempPath("sock-test")))

	t.Cleanup(func() { _ = listener.Close() })

	return listener
}

// connectPair returns a connected client and its accepted server side.
func connectPair(t *testing.T, listener *sock.Listener) (*sock.Conn, *sock.Conn) {
	t.Helper()

	client, err := sock.Dial(listener.Addr())
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()

	server, err := listener.Accept(ctx)
	require.NoError(t, err)

	t.Cleanup(func() { _ = server.Close() })

	return client, server
}

// readN reads until n bytes are received or the timeout expires.
func readN(t *testing.T, conn *sock.Conn, n int) []byte {
	t.Helper()

	var received []byte

	deadline := time.After(testTimeout)

	for len(received) < n {
		received = append(received, conn.ReadAll()...)
		if len(received) >= n {
			break
		}

		select {
		case <-conn.Readable():
		case <-conn.Done():
			received = append(received, conn.ReadAll()...)
			require.Len(t, received, n, "connection closed early")

			return received
		case <-deadline:
			require.FailNow(t, "timeout", "received %d of %d bytes", len(received), n)
		}
	}

	return received
}
