// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// Listener accepts connections on a Unix domain socket or a virtio socket
// port and queues them as pending [Conn]s. The zero value is ready to use.
type Listener struct {
	mu           sync.Mutex
	ln           net.Listener
	bound        string
	addr         string
	path         string
	clients      map[*Conn]struct{}
	pending      Queue[*Conn]
	onConnection func(*Conn)
	incoming     chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
}

// Listen binds the listener to the given path and starts accepting
// connections. Names without a path separator are placed in the temporary
// directory, see [ResolvePath]. A stale socket file is removed first.
//
// Listening again on the same path is a no-op. Listening on a different
// address while already listening fails with [ErrListeningElsewhere].
func (l *Listener) Listen(name string) error {
	path := ResolvePath(name)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return l.rebindLocked(path)
	}

	err := unlink(path)
	if err != nil {
		return err
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return &SystemError{Op: "listen", Err: err}
	}

	// Removal is done by Close, tolerating already removed files.
	ln.SetUnlinkOnClose(false)

	l.path = path
	l.startLocked(ln, path, path)

	slog.Debug("Socket listening", slog.String("path", path))

	return nil
}

func (l *Listener) rebindLocked(bound string) error {
	if l.bound == bound {
		return nil
	}

	return ErrListeningElsewhere
}

func (l *Listener) startLocked(ln net.Listener, bound, addr string) {
	l.ln = ln
	l.bound = bound
	l.addr = addr
	l.clients = make(map[*Conn]struct{})
	l.done = make(chan struct{})

	if l.incoming == nil {
		l.incoming = make(chan struct{}, 1)
	}

	l.wg.Add(1)

	go l.acceptLoop(ln, l.done)
}

func (l *Listener) acceptLoop(ln net.Listener, done chan struct{}) {
	defer l.wg.Done()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if !closing(done) {
				slog.Warn("Socket accept failed",
					slog.String("addr", l.Addr()),
					slog.Any("error", err))
			}

			return
		}

		l.add(newOpen(nc))
	}
}

func (l *Listener) add(conn *Conn) {
	l.mu.Lock()

	if l.ln == nil {
		l.mu.Unlock()
		_ = conn.Close()

		return
	}

	l.clients[conn] = struct{}{}
	l.pending.Push(conn)
	hook := l.onConnection
	incoming := l.incoming
	l.mu.Unlock()

	conn.OnClose(func() { l.drop(conn) })

	signal(incoming)

	if hook != nil {
		hook(conn)
	}
}

func (l *Listener) drop(conn *Conn) {
	l.pending.Remove(conn)

	l.mu.Lock()
	delete(l.clients, conn)
	l.mu.Unlock()
}

// OnConnection sets the function called for each accepted connection, after
// it has been queued. It may be set before listening.
func (l *Listener) OnConnection(f func(*Conn)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onConnection = f
}

// NextPending dequeues the oldest pending connection. It returns nil if none
// is pending.
func (l *Listener) NextPending() *Conn {
	conn, ok := l.pending.Pop()
	if !ok {
		return nil
	}

	return conn
}

// Claim removes the given connection from the pending queue. It returns false
// if the connection is not pending anymore. The connection stays tracked and
// is closed on [Listener.Close].
func (l *Listener) Claim(conn *Conn) bool {
	return l.pending.Remove(conn)
}

// Pending returns the number of pending connections.
func (l *Listener) Pending() int {
	return l.pending.Len()
}

// Accept blocks until a pending connection is available, the context is done
// or the listener is closed.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	l.mu.Lock()
	incoming, done := l.incoming, l.done
	listening := l.ln != nil
	l.mu.Unlock()

	if !listening {
		return nil, ErrNotListening
	}

	for {
		if conn := l.NextPending(); conn != nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, ErrClosed
		case <-incoming:
		}
	}
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.addr
}

// Listening reports whether the listener is bound.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ln != nil
}

// Close closes all tracked connections, including pending ones, stops
// listening and removes the socket file. Closing a listener that is not
// listening is a no-op.
func (l *Listener) Close() error {
	l.mu.Lock()

	ln, path, addr := l.ln, l.path, l.addr
	if ln == nil {
		l.mu.Unlock()
		return nil
	}

	l.ln = nil
	l.bound = ""
	l.path = ""
	clients := l.clients
	l.clients = nil
	close(l.done)
	l.mu.Unlock()

	_ = ln.Close()

	l.wg.Wait()

	l.pending.Drain()

	for conn := range clients {
		_ = conn.Close()
	}

	slog.Debug("Socket listener closed", slog.String("addr", addr))

	if path == "" {
		return nil
	}

	return unlink(path)
}

func closing(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func unlink(path string) error {
	err := unix.Unlink(path)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return &SystemError{Op: "unlink", Err: err}
	}

	return nil
}
