// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tunnel

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/loliting/VirtualSlides/internal/metrics"
	"github.com/loliting/VirtualSlides/internal/sock"
)

// rejectFlushTimeout bounds the time the reject reply may take to be written
// before the connection is closed anyway.
const rejectFlushTimeout = time.Second

// Listener accepts tunneled connections whose [Key] matches its [Filter].
// The zero value is ready to use.
//
// It can listen on a Unix domain socket, where each client sends its key and
// gets a [Reply], and on a virtio socket port, where the key is taken from
// the connection addresses and nothing is exchanged.
type Listener struct {
	raw    sock.Listener
	native sock.Listener
	wg     sync.WaitGroup

	mu           sync.Mutex
	filter       Filter
	pending      sock.Queue[*Conn]
	onConnection func(*Conn)
	incoming     chan struct{}
	done         chan struct{}
}

// Listen starts accepting tunneled connections on the given path. Keys are
// evaluated against the given filter.
//
// Listening again on the same path is a no-op, apart from updating the
// filter. Listening on a different path while already listening fails with
// [sock.ErrListeningElsewhere].
func (l *Listener) Listen(path string, filter Filter) error {
	return l.bind(&l.raw, filter, l.claim, func() error {
		return l.raw.Listen(path)
	})
}

// ListenVsock starts accepting virtio socket connections on the given port.
// It can be used next to [Listener.Listen]. Keys are evaluated against the
// given filter, which applies to both.
func (l *Listener) ListenVsock(port uint32, filter Filter) error {
	return l.bind(&l.native, filter, l.claimVsock, func() error {
		return l.native.ListenVsock(port)
	})
}

func (l *Listener) bind(
	raw *sock.Listener,
	filter Filter,
	hook func(*sock.Conn),
	listen func() error,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.raw.Listening() && !l.native.Listening() {
		l.done = make(chan struct{})
	}

	if l.incoming == nil {
		l.incoming = make(chan struct{}, 1)
	}

	// Set before listening, so no connection is accepted without it.
	raw.OnConnection(hook)

	err := listen()
	if err != nil {
		return err //nolint:wrapcheck
	}

	l.filter = filter

	return nil
}

func (l *Listener) claim(conn *sock.Conn) {
	// Raw connections are never handed out, so claiming only fails if the
	// peer is already gone.
	if !l.raw.Claim(conn) {
		return
	}

	l.wg.Add(1)

	go l.negotiate(conn)
}

func (l *Listener) claimVsock(conn *sock.Conn) {
	if !l.native.Claim(conn) {
		return
	}

	key, ok := vsockKey(conn.LocalAddr(), conn.RemoteAddr())
	if !ok {
		metrics.Get().RecordHandshake(metrics.HandshakeDropped)

		_ = conn.Close()

		return
	}

	l.admit(conn, key, false)
}

func (l *Listener) negotiate(conn *sock.Conn) {
	defer l.wg.Done()

	data, ok := readKey(conn)
	if !ok {
		slog.Debug("Tunnel peer left during handshake")
		metrics.Get().RecordHandshake(metrics.HandshakeDropped)

		_ = conn.Close()

		return
	}

	var key Key

	_ = key.UnmarshalBinary(data)

	l.admit(conn, key, true)
}

// admit evaluates the key and queues the connection if it matches. With
// reply set, the [Reply] is sent to the peer.
func (l *Listener) admit(conn *sock.Conn, key Key, reply bool) {
	l.mu.Lock()
	filter := l.filter
	hook := l.onConnection
	incoming := l.incoming
	l.mu.Unlock()

	if !filter.Match(key) {
		slog.Debug("Tunnel connection rejected", slog.String("key", key.String()))
		metrics.Get().RecordHandshake(metrics.HandshakeRejected)

		if reply {
			_, _ = conn.Write([]byte{byte(Reject)})
			conn.WaitFlushed(rejectFlushTimeout)
		}

		_ = conn.Close()

		return
	}

	if reply {
		_, err := conn.Write([]byte{byte(Accept)})
		if err != nil {
			metrics.Get().RecordHandshake(metrics.HandshakeDropped)
			return
		}
	}

	slog.Debug("Tunnel connection accepted", slog.String("key", key.String()))
	metrics.Get().RecordHandshake(metrics.HandshakeAccepted)

	tunneled := &Conn{Conn: conn, key: key}

	l.pending.Push(tunneled)
	conn.OnClose(func() { l.pending.Remove(tunneled) })

	select {
	case incoming <- struct{}{}:
	default:
	}

	if hook != nil {
		hook(tunneled)
	}
}

// vsockKey returns the key of a virtio socket connection accepted on the
// host.
func vsockKey(local, remote net.Addr) (Key, bool) {
	localAddr, ok := local.(*vsock.Addr)
	if !ok {
		return Key{}, false
	}

	remoteAddr, ok := remote.(*vsock.Addr)
	if !ok {
		return Key{}, false
	}

	return Key{
		HostID:    uint64(localAddr.ContextID),
		GuestID:   uint64(remoteAddr.ContextID),
		HostPort:  localAddr.Port,
		GuestPort: remoteAddr.Port,
	}, true
}

// readKey waits for the encoded key. Bytes following the key stay buffered
// as application data. It returns false if the peer disconnects first.
func readKey(conn *sock.Conn) ([]byte, bool) {
	data := make([]byte, 0, KeySize)

	for {
		chunk := make([]byte, KeySize-len(data))
		n, _ := conn.Read(chunk)
		data = append(data, chunk[:n]...)

		if len(data) == KeySize {
			return data, true
		}

		select {
		case <-conn.Readable():
		case <-conn.Done():
			if conn.BytesAvailable() == 0 {
				return nil, false
			}
		}
	}
}

// OnConnection sets the function called for each accepted connection, after
// it has been queued.
func (l *Listener) OnConnection(f func(*Conn)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onConnection = f
}

// NextPending dequeues the oldest accepted connection. It returns nil if
// none is pending.
func (l *Listener) NextPending() *Conn {
	conn, ok := l.pending.Pop()
	if !ok {
		return nil
	}

	return conn
}

// Pending returns the number of accepted, not yet dequeued connections.
func (l *Listener) Pending() int {
	return l.pending.Len()
}

// Accept blocks until an accepted connection is available, the context is
// done or the listener is closed.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	l.mu.Lock()
	incoming, done := l.incoming, l.done
	listening := l.listening()
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

// Path returns the socket path the listener is bound to. It is empty if it
// only listens on a virtio socket port.
func (l *Listener) Path() string {
	return l.raw.Addr()
}

// Filter returns the current filter.
func (l *Listener) Filter() Filter {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.filter
}

// Listening reports whether the listener is bound to a socket path or a
// virtio socket port.
func (l *Listener) Listening() bool {
	return l.listening()
}

func (l *Listener) listening() bool {
	return l.raw.Listening() || l.native.Listening()
}

// Close closes all connections, including those in handshake, and stops
// listening. It is idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()

	if !l.listening() {
		l.mu.Unlock()
		return nil
	}

	close(l.done)
	l.mu.Unlock()

	err := errors.Join(l.raw.Close(), l.native.Close())

	l.wg.Wait()
	l.pending.Drain()

	return err
}
