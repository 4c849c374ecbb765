// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package console relays the guest console to any number of viewers.
//
// The first connection accepted on the console socket is the primary one. It
// is the VM's console device. Its output is copied to every viewer, while
// input of any viewer is forwarded to the primary connection only.
package console

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loliting/VirtualSlides/internal/metrics"
	"github.com/loliting/VirtualSlides/internal/sock"
)

var errPrimaryClosed = errors.New("primary console closed")

// Relay copies console output of the primary connection to all attached
// viewers. It is used for a single VM run.
type Relay struct {
	name string

	mu      sync.Mutex
	primary *sock.Conn
	viewers map[*Viewer]struct{}
	closed  bool
}

// NewRelay creates a new [Relay]. The name is used for logging and metrics.
func NewRelay(name string) *Relay {
	return &Relay{
		name:    name,
		viewers: make(map[*Viewer]struct{}),
	}
}

// Serve accepts the primary connection from the listener and relays until
// the primary connection closes, the listener closes or the context is done.
// Further connections on the listener are attached as viewers.
func (r *Relay) Serve(ctx context.Context, listener *sock.Listener) error {
	primary, err := listener.Accept(ctx)
	if err != nil {
		if errors.Is(err, sock.ErrClosed) {
			return nil
		}

		return err //nolint:wrapcheck
	}

	slog.Debug("Primary console connected", slog.String("vm", r.name))

	r.mu.Lock()
	r.primary = primary
	r.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return r.pumpPrimary(ctx, primary)
	})

	group.Go(func() error {
		for {
			conn, err := listener.Accept(ctx)
			if err != nil {
				return nil
			}

			// Socket viewers have no terminal size until they resize.
			viewer := r.Attach(conn, Size{})

			group.Go(func() error {
				r.pumpViewer(ctx, viewer, conn)
				return nil
			})
		}
	})

	err = group.Wait()
	if errors.Is(err, errPrimaryClosed) {
		return nil
	}

	return err //nolint:wrapcheck
}

func (r *Relay) pumpPrimary(ctx context.Context, primary *sock.Conn) error {
	for {
		r.broadcast(primary.ReadAll())

		select {
		case <-ctx.Done():
			return nil
		case <-primary.Done():
			r.broadcast(primary.ReadAll())
			return errPrimaryClosed
		case <-primary.Readable():
		}
	}
}

// pumpViewer forwards input of a connection based viewer to the primary.
func (r *Relay) pumpViewer(ctx context.Context, viewer *Viewer, conn *sock.Conn) {
	defer viewer.Detach()

	for {
		_, _ = viewer.Write(conn.ReadAll())

		select {
		case <-ctx.Done():
			return
		case <-viewer.Done():
			return
		case <-conn.Done():
			return
		case <-conn.Readable():
		}
	}
}

func (r *Relay) broadcast(data []byte) {
	if len(data) == 0 {
		return
	}

	r.mu.Lock()
	viewers := make([]*Viewer, 0, len(r.viewers))
	for viewer := range r.viewers {
		viewers = append(viewers, viewer)
	}
	r.mu.Unlock()

	for _, viewer := range viewers {
		_, err := viewer.out.Write(data)
		if err != nil {
			slog.Debug("Console viewer write failed, detaching",
				slog.String("vm", r.name),
				slog.Any("error", err))
			viewer.Detach()
		}
	}
}

func (r *Relay) forward(data []byte) {
	if len(data) == 0 {
		return
	}

	r.mu.Lock()
	primary := r.primary
	r.mu.Unlock()

	if primary == nil {
		return
	}

	_, err := primary.Write(data)
	if err != nil {
		slog.Debug("Console input dropped",
			slog.String("vm", r.name),
			slog.Any("error", err))
	}
}

// Attach adds a viewer. Console output is written to out. Use
// [Viewer.Write] to send input to the guest. Viewers attached to a closed
// relay are detached immediately.
func (r *Relay) Attach(out io.Writer, size Size) *Viewer {
	viewer := &Viewer{
		relay: r,
		out:   out,
		size:  size,
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	closed := r.closed
	if !closed {
		r.viewers[viewer] = struct{}{}
	}
	count := len(r.viewers)
	r.mu.Unlock()

	if closed {
		viewer.Detach()
		return viewer
	}

	metrics.Get().ConsoleViewers.WithLabelValues(r.name).Set(float64(count))

	return viewer
}

func (r *Relay) detach(viewer *Viewer) {
	r.mu.Lock()
	delete(r.viewers, viewer)
	count := len(r.viewers)
	r.mu.Unlock()

	metrics.Get().ConsoleViewers.WithLabelValues(r.name).Set(float64(count))
}

// TermSize returns the smallest size of all attached viewers per dimension,
// or [DefaultSize] if no viewer with a known size is attached.
func (r *Relay) TermSize() Size {
	r.mu.Lock()
	defer r.mu.Unlock()

	sizes := make([]Size, 0, len(r.viewers))
	for viewer := range r.viewers {
		if size := viewer.Size(); size.Valid() {
			sizes = append(sizes, size)
		}
	}

	return minSize(sizes)
}

// Viewers returns the number of attached viewers.
func (r *Relay) Viewers() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.viewers)
}

// Close detaches all viewers. Later attached viewers are detached
// immediately.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	viewers := make([]*Viewer, 0, len(r.viewers))
	for viewer := range r.viewers {
		viewers = append(viewers, viewer)
	}
	r.mu.Unlock()

	for _, viewer := range viewers {
		viewer.Detach()
	}
}
