// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	readChunkSize = 64 * 1024

	// PollInterval is the granularity of [Conn.WaitReadable] and
	// [Conn.WaitFlushed].
	PollInterval = 5 * time.Millisecond
)

// State is the connection state of a [Conn].
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is the event driven byte stream interface shared by plain and
// tunneled connections.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// Readable signals that new bytes were buffered. The signal coalesces, so
	// consumers must drain everything available on each wake up.
	Readable() <-chan struct{}

	// Done is closed once the connection is closed.
	Done() <-chan struct{}

	// Err returns the error that caused the connection to close. It is nil
	// for orderly closes.
	Err() error
}

// Conn is a non-blocking, buffered byte stream connection.
//
// Use [New] and [Conn.Connect], or [Dial] for Unix domain sockets. Virtio
// socket connections are accepted by a [Listener] only.
type Conn struct {
	mu       sync.Mutex
	conn     net.Conn
	state    State
	readBuf  []byte
	writeBuf []byte
	inFlight int
	err      error
	onClose  []func()
	onError  func(error)

	readable  chan struct{}
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a new unconnected [Conn].
func New() *Conn {
	return &Conn{
		readable: make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Dial connects to the Unix domain socket at the given path.
func Dial(path string) (*Conn, error) {
	c := New()

	err := c.Connect(path)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func newOpen(conn net.Conn) *Conn {
	c := New()
	c.attach(conn)

	return c
}

// Connect opens a connection to the Unix domain socket at the given path.
//
// It fails with [ErrAlreadyOpen] if the connection was connected before.
func (c *Conn) Connect(path string) error {
	c.mu.Lock()

	if c.state != StateUnconnected {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}

	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		c.mu.Lock()
		c.state = StateUnconnected
		c.mu.Unlock()

		return &SystemError{Op: "connect", Err: err}
	}

	slog.Debug("Socket connected", slog.String("path", path))

	c.attach(conn)

	return nil
}

func (c *Conn) attach(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.writeLoop(conn)

	// Data written while connecting must be flushed.
	signal(c.wake)
}

func (c *Conn) readLoop(conn net.Conn) {
	buf := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.readBuf = append(c.readBuf, buf[:n]...)
			c.mu.Unlock()

			signal(c.readable)
		}

		if err != nil {
			c.fail("read", err)
			return
		}
	}
}

func (c *Conn) writeLoop(conn net.Conn) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			data := c.writeBuf
			c.writeBuf = nil
			c.inFlight = len(data)
			c.mu.Unlock()

			if len(data) == 0 {
				break
			}

			_, err := conn.Write(data)

			c.mu.Lock()
			c.inFlight = 0
			c.mu.Unlock()

			if err != nil {
				c.fail("write", err)
				return
			}
		}
	}
}

func (c *Conn) fail(op string, err error) {
	if isDisconnect(err) {
		c.closeWith(nil)
		return
	}

	c.closeWith(&SystemError{Op: op, Err: err})
}

func (c *Conn) closeWith(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.state = StateClosed
		c.err = err
		hooks := c.onClose
		c.onClose = nil
		onError := c.onError
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}

		close(c.done)
		signal(c.readable)

		if err != nil {
			slog.Debug("Socket error", slog.Any("error", err))

			if onError != nil {
				onError(err)
			}
		}

		for _, hook := range hooks {
			hook()
		}
	})
}

// Close closes the connection. Buffered unread data stays readable. Calling
// Close more than once is a no-op.
func (c *Conn) Close() error {
	c.closeWith(nil)
	return nil
}

// Read drains buffered data into p. It never blocks.
//
// If nothing is buffered, it returns 0 and nil while the connection is open
// and 0 and [io.EOF] once it is closed.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.readBuf) == 0 {
		if c.state == StateClosed {
			return 0, io.EOF
		}

		return 0, nil
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]

	if len(c.readBuf) == 0 {
		c.readBuf = nil
	}

	return n, nil
}

// ReadAll drains all buffered data.
func (c *Conn) ReadAll() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.readBuf
	c.readBuf = nil

	return data
}

// Write appends p to the write buffer. The whole input is always accepted
// unless the connection is closed or was never connected.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()

	if c.state == StateClosed || c.state == StateUnconnected {
		c.mu.Unlock()
		return 0, ErrClosed
	}

	c.writeBuf = append(c.writeBuf, p...)
	c.mu.Unlock()

	signal(c.wake)

	return len(p), nil
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// BytesAvailable returns the number of buffered unread bytes.
func (c *Conn) BytesAvailable() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.readBuf)
}

// BytesToWrite returns the number of bytes not yet handed to the OS.
func (c *Conn) BytesToWrite() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.writeBuf) + c.inFlight
}

// Readable implements [Stream].
func (c *Conn) Readable() <-chan struct{} {
	return c.readable
}

// Done implements [Stream].
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err implements [Stream].
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// OnClose registers a function that is called once the connection is closed.
// If it is closed already, f is called immediately.
func (c *Conn) OnClose(f func()) {
	c.mu.Lock()

	if c.state != StateClosed {
		c.onClose = append(c.onClose, f)
		c.mu.Unlock()

		return
	}

	c.mu.Unlock()
	f()
}

// OnError sets the function called with non-recoverable errors.
func (c *Conn) OnError(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onError = f
}

// LocalAddr returns the local address, if connected.
func (c *Conn) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer address, if connected.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	return c.conn.RemoteAddr()
}

// WaitReadable blocks until data is available, the connection closes or the
// timeout expires. It returns true if data is available.
func (c *Conn) WaitReadable(timeout time.Duration) bool {
	return c.poll(timeout, func() bool { return c.BytesAvailable() > 0 })
}

// WaitFlushed blocks until the write buffer is drained, the connection closes
// or the timeout expires. It returns true if everything was written.
func (c *Conn) WaitFlushed(timeout time.Duration) bool {
	return c.poll(timeout, func() bool { return c.BytesToWrite() == 0 })
}

func (c *Conn) poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		if cond() {
			return true
		}

		select {
		case <-c.done:
			return cond()
		case <-deadline.C:
			return cond()
		case <-ticker.C:
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
