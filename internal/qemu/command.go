// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Command is a single QEMU process.
type Command struct {
	name string
	args []string
	cmd  *exec.Cmd

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	exitCode int
	err      error
}

// NewCommand creates a new [Command] for the given spec. The spec is
// validated. Stderr of the QEMU process is written to the given writer, if
// not nil.
func NewCommand(spec CommandSpec, stderr io.Writer) (*Command, error) {
	args, err := spec.Arguments()
	if err != nil {
		return nil, err
	}

	//nolint:gosec
	cmd := exec.Command(spec.Executable, args...)
	cmd.Stderr = stderr

	return &Command{
		name: spec.Executable,
		args: args,
		cmd:  cmd,
		done: make(chan struct{}),
	}, nil
}

// Args returns the arguments the QEMU process is started with.
func (c *Command) Args() []string {
	return c.args
}

// String implements [fmt.Stringer].
func (c *Command) String() string {
	return c.name + " " + strings.Join(c.args, " ")
}

// Start starts the QEMU process. It does not wait for it to complete.
func (c *Command) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}

	slog.Debug("QEMU command", slog.String("command", c.String()))

	err := c.cmd.Start()
	if err != nil {
		return fmt.Errorf("start qemu: %w", err)
	}

	c.started = true

	go c.wait()

	return nil
}

func (c *Command) wait() {
	err := c.cmd.Wait()

	exitCode := c.cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = &CommandError{Err: exitErr, ExitCode: exitCode}
	}

	slog.Debug("QEMU exited",
		slog.Int("pid", c.cmd.ProcessState.Pid()),
		slog.Int("exit_code", exitCode))

	c.mu.Lock()
	c.exitCode = exitCode
	c.err = err
	c.mu.Unlock()

	close(c.done)
}

// Done returns a channel that is closed once the process exited.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the process exited. It returns a [CommandError] if the
// process did not exit successfully. The exit code is -1 if the process was
// terminated by a signal.
func (c *Command) Wait() (int, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if !started {
		return -1, ErrNotStarted
	}

	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exitCode, c.err
}

// Terminate asks the QEMU process to shut down the guest by sending SIGTERM.
func (c *Command) Terminate() error {
	return c.signal(unix.SIGTERM)
}

// Kill kills the QEMU process immediately.
func (c *Command) Kill() error {
	return c.signal(unix.SIGKILL)
}

func (c *Command) signal(sig unix.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return ErrNotStarted
	}

	select {
	case <-c.done:
		return nil
	default:
	}

	err := c.cmd.Process.Signal(sig)
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal qemu: %w", err)
	}

	return nil
}
