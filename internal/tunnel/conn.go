// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tunnel

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loliting/VirtualSlides/internal/sock"
)

// DefaultHandshakeTimeout is the time a client waits for the [Reply].
const DefaultHandshakeTimeout = time.Second

// Conn is an established tunneled connection.
type Conn struct {
	*sock.Conn

	key Key
}

// Key returns the key the connection was established with.
func (c *Conn) Key() Key {
	return c.key
}

// Dial connects to the tunnel listener at the given path and performs the
// handshake with the given key. It blocks until the reply is received or the
// timeout expires. A timeout of 0 uses [DefaultHandshakeTimeout].
func Dial(path string, key Key, timeout time.Duration) (*Conn, error) {
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}

	conn, err := sock.Dial(path)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial: %w", err)
	}

	err = handshake(conn, key, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	slog.Debug("Tunnel connection established", slog.String("key", key.String()))

	return &Conn{Conn: conn, key: key}, nil
}

func handshake(conn *sock.Conn, key Key, timeout time.Duration) error {
	data, err := key.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}

	_, err = conn.Write(data)
	if err != nil {
		return fmt.Errorf("send key: %w", err)
	}

	if !conn.WaitReadable(timeout) {
		if conn.State() == sock.StateClosed {
			return ErrConnectionRefused
		}

		return ErrHandshakeTimeout
	}

	var reply [1]byte

	_, err = conn.Read(reply[:])
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	if Reply(reply[0]) != Accept {
		return ErrConnectionRefused
	}

	return nil
}
