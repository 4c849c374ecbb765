// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package console

import (
	"io"
	"sync"
)

// Viewer is a console output sink attached to a [Relay].
type Viewer struct {
	relay *Relay
	out   io.Writer

	mu       sync.Mutex
	size     Size
	done     chan struct{}
	doneOnce sync.Once
}

// Write sends input to the guest console. Input of detached viewers is
// discarded.
func (v *Viewer) Write(p []byte) (int, error) {
	select {
	case <-v.done:
	default:
		v.relay.forward(p)
	}

	return len(p), nil
}

// Size returns the terminal size of the viewer. It is the zero [Size] if
// unknown.
func (v *Viewer) Size() Size {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.size
}

// Resize updates the terminal size of the viewer. Invalid sizes are ignored.
func (v *Viewer) Resize(size Size) {
	if !size.Valid() {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.size = size
}

// Done is closed once the viewer is detached.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// Detach removes the viewer from its relay. It is idempotent.
func (v *Viewer) Detach() {
	v.doneOnce.Do(func() {
		v.relay.detach(v)
		close(v.done)
	})
}
