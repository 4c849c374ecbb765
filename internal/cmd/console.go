// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/charmbracelet/x/term"
	"golang.org/x/sys/unix"

	"github.com/loliting/VirtualSlides/internal/console"
	"github.com/loliting/VirtualSlides/internal/supervisor"
)

// consoleInput forwards input to the viewer of the current VM run. Input is
// discarded while the VM is not running.
type consoleInput struct {
	mu     sync.Mutex
	viewer *console.Viewer
}

func (c *consoleInput) set(viewer *console.Viewer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.viewer = viewer
}

func (c *consoleInput) resize(size console.Size) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.viewer != nil {
		c.viewer.Resize(size)
	}
}

func (c *consoleInput) Write(p []byte) (int, error) {
	c.mu.Lock()
	viewer := c.viewer
	c.mu.Unlock()

	if viewer == nil {
		return len(p), nil
	}

	return viewer.Write(p)
}

// terminal is the controlling terminal, if stdin is one.
type terminal struct {
	fd    uintptr
	state *term.State
}

func openTerminal(stdin io.Reader) *terminal {
	file, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(file.Fd()) {
		return nil
	}

	state, err := term.MakeRaw(file.Fd())
	if err != nil {
		slog.Warn("Failed to set terminal raw mode", slog.Any("error", err))
		return nil
	}

	return &terminal{fd: file.Fd(), state: state}
}

func (t *terminal) size() console.Size {
	if t == nil {
		return console.DefaultSize
	}

	width, height, err := term.GetSize(t.fd)
	if err != nil {
		return console.DefaultSize
	}

	return console.Size{Rows: height, Cols: width}
}

func (t *terminal) restore() {
	if t == nil {
		return
	}

	err := term.Restore(t.fd, t.state)
	if err != nil {
		slog.Warn("Failed to restore terminal", slog.Any("error", err))
	}
}

// attachConsole attaches stdin and stdout to the console of every run of the
// VM until the context is done or the VM failed fatally.
func attachConsole(ctx context.Context, sup *supervisor.Supervisor, cfg IO) error {
	input := &consoleInput{}

	tty := openTerminal(cfg.Stdin)
	defer tty.restore()

	if cfg.Stdin != nil {
		go func() {
			_, _ = io.Copy(input, cfg.Stdin)
		}()
	}

	winch := make(chan os.Signal, 1)
	if tty != nil {
		signal.Notify(winch, unix.SIGWINCH)
		defer signal.Stop(winch)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-winch:
			input.resize(tty.size())
		case ev, ok := <-sup.Events():
			if !ok {
				return nil
			}

			err := handleEvent(sup, ev, input, tty.size(), cfg.Stdout)
			if err != nil {
				return err
			}
		}
	}
}

func handleEvent(
	sup *supervisor.Supervisor,
	ev supervisor.Event,
	input *consoleInput,
	size console.Size,
	stdout io.Writer,
) error {
	switch ev.Kind {
	case supervisor.EventStarted:
		viewer, err := sup.AttachViewer(stdout, size)
		if err != nil {
			if errors.Is(err, supervisor.ErrNotRunning) {
				slog.Debug("VM gone before console attached", slog.String("vm", ev.VM))
				return nil
			}

			return fmt.Errorf("attach console: %w", err)
		}

		input.set(viewer)

		slog.Info("VM started", slog.String("vm", ev.VM),
			slog.String("console", sup.ConsolePath()))
	case supervisor.EventBridgeConnected:
		slog.Info("Guest connected", slog.String("vm", ev.VM))
	case supervisor.EventStopped:
		input.set(nil)

		slog.Info("VM stopped", slog.String("vm", ev.VM),
			slog.Int("exit_code", ev.ExitCode),
			slog.Int("retries", sup.Retries()))
	case supervisor.EventFatal:
		input.set(nil)

		return fmt.Errorf("%w: %w", ErrVMFatal, ev.Err)
	}

	return nil
}
