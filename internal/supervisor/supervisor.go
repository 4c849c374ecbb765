// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/loliting/VirtualSlides/internal/bridge"
	"github.com/loliting/VirtualSlides/internal/console"
	"github.com/loliting/VirtualSlides/internal/metrics"
	"github.com/loliting/VirtualSlides/internal/qemu"
	"github.com/loliting/VirtualSlides/internal/sock"
	"github.com/loliting/VirtualSlides/internal/tunnel"
)

const eventBufferSize = 32

type request struct {
	trigger trigger
	reply   chan error
}

type exitMsg struct {
	gen  uint64
	code int
	err  error
}

// Supervisor runs the VM process of a single [Definition].
type Supervisor struct {
	name    string
	id      uint32
	def     Definition
	deps    Deps
	nics    []qemu.NIC
	tunnel  *tunnel.Listener
	tunPath string

	requests chan request
	exits    chan exitMsg
	bridges  chan uint64
	events   chan Event
	done     chan struct{}

	reboot  atomic.Bool
	state   atomic.Int32
	retries atomic.Int32

	mu  sync.Mutex
	run *run

	// Owned by the loop goroutine.
	lc           lifecycle
	gen          uint64
	lastErr      error
	closeReplies []chan error
	shutdown     bool
}

// run holds the resources of a single VM process run.
type run struct {
	gen     uint64
	proc    Process
	console *sock.Listener
	relay   *console.Relay
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new [Supervisor] for the given definition. It allocates the
// guest id and starts listening on the tunnel socket and, if enabled, on the
// virtio socket port equal to the guest id. The VM is not started.
//
// [Supervisor.Close] must be called to release the resources.
func New(def Definition, deps Deps) (*Supervisor, error) {
	if deps.IDs == nil {
		deps.IDs = &defaultIDs
	}

	if deps.Launcher == nil {
		deps.Launcher = QEMULauncher{}
	}

	id := deps.IDs.Next()

	name := def.Name
	if name == "" {
		name = "vm" + strconv.FormatUint(uint64(id), 10)
	}

	s := &Supervisor{
		name:     name,
		id:       id,
		def:      def,
		deps:     deps,
		tunnel:   &tunnel.Listener{},
		tunPath:  sock.TempPath("vslides-tunnel"),
		requests: make(chan request),
		exits:    make(chan exitMsg),
		bridges:  make(chan uint64),
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
	}

	if deps.Network != nil {
		s.nics = append(s.nics, qemu.NIC{
			MAC:       deps.Network.MAC(name, 0).String(),
			McastAddr: deps.Network.McastAddr(),
		})

		if deps.Network.HasWAN() {
			s.nics = append(s.nics, qemu.NIC{
				MAC: deps.Network.MAC(name, 1).String(),
			})
		}
	}

	err := s.listenTunnel()
	if err != nil {
		return nil, err
	}

	go s.loop()

	return s, nil
}

// Name returns the name of the VM.
func (s *Supervisor) Name() string {
	return s.name
}

// GuestID returns the vsock context id of the guest.
func (s *Supervisor) GuestID() uint32 {
	return s.id
}

// TunnelPath returns the path of the tunnel socket.
func (s *Supervisor) TunnelPath() string {
	return s.tunPath
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Retries returns the number of automatic restarts since the guest bridge
// last connected.
func (s *Supervisor) Retries() int {
	return int(s.retries.Load())
}

// Events returns the channel lifecycle events are sent on. It is closed once
// the supervisor is closed. Events are dropped if the channel is full.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start starts the VM. It is a no-op if the VM is already starting or running.
// It returns a [LifecycleError] wrapping [ErrLaunchFailed] if the process
// could not be launched.
func (s *Supervisor) Start(ctx context.Context) error {
	return s.send(ctx, triggerStart)
}

// Stop asks the VM to shut down. It does not wait for the process to exit.
// It is a no-op if the VM is not running.
func (s *Supervisor) Stop() error {
	return s.send(context.Background(), triggerStop)
}

// Restart stops the VM and starts it again once the process exited. If the
// VM is stopped, it is started.
func (s *Supervisor) Restart() error {
	return s.send(context.Background(), triggerRestart)
}

// Close kills the VM process, waits for it to exit and releases all
// resources. It is safe to call multiple times.
func (s *Supervisor) Close() error {
	err := s.send(context.Background(), triggerClose)
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}

	<-s.done

	return nil
}

// ConsolePath returns the path of the console socket of the current run. It
// is empty if the VM is not running.
func (s *Supervisor) ConsolePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return ""
	}

	return s.run.console.Addr()
}

// AttachViewer attaches a console viewer to the running VM. It is detached
// when the VM process exits.
func (s *Supervisor) AttachViewer(out io.Writer, size console.Size) (*console.Viewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return nil, ErrNotRunning
	}

	return s.run.relay.Attach(out, size), nil
}

// TermSize returns the console size of the attached viewers.
func (s *Supervisor) TermSize() console.Size {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return console.DefaultSize
	}

	return s.run.relay.TermSize()
}

func (s *Supervisor) send(ctx context.Context, trig trigger) error {
	req := request{
		trigger: trig,
		reply:   make(chan error, 1),
	}

	select {
	case s.requests <- req:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}

func (s *Supervisor) loop() {
	defer s.finish()

	for !s.shutdown {
		select {
		case req := <-s.requests:
			s.handle(req)
		case msg := <-s.exits:
			if msg.gen != s.gen {
				continue
			}

			slog.Debug("VM process exited",
				slog.String("vm", s.name),
				slog.Int("exit_code", msg.code),
				slog.Any("error", msg.err))

			s.apply(event{
				trigger:  triggerExited,
				exitCode: msg.code,
				reboot:   s.reboot.Swap(false),
			})
		case gen := <-s.bridges:
			if gen == s.gen {
				s.apply(event{trigger: triggerBridgeConnected})
			}
		}
	}
}

func (s *Supervisor) finish() {
	err := s.tunnel.Close()
	if err != nil {
		slog.Warn("Closing tunnel listener failed",
			slog.String("vm", s.name),
			slog.Any("error", err))
	}

	close(s.events)

	for _, reply := range s.closeReplies {
		reply <- nil
	}

	close(s.done)
}

func (s *Supervisor) handle(req request) {
	if req.trigger == triggerClose {
		s.closeReplies = append(s.closeReplies, req.reply)
		s.apply(event{trigger: triggerClose})

		return
	}

	s.lastErr = nil
	s.apply(event{trigger: req.trigger})
	req.reply <- s.lastErr
}

func (s *Supervisor) apply(ev event) {
	lc, actions := s.lc.next(ev)

	if lc.state != s.lc.state {
		slog.Debug("VM state changed",
			slog.String("vm", s.name),
			slog.String("from", s.lc.state.String()),
			slog.String("to", lc.state.String()))
	}

	s.lc = lc
	s.state.Store(int32(lc.state))    //nolint:gosec
	s.retries.Store(int32(lc.retries)) //nolint:gosec

	for _, act := range actions {
		follow, ok := s.do(act, ev)
		if ok {
			s.apply(follow)
		}
	}
}

func (s *Supervisor) do(act action, ev event) (event, bool) {
	switch act {
	case actionLaunch:
		return s.launch(), true
	case actionTerminate:
		s.signal("terminate", Process.Terminate)
	case actionKill:
		s.signal("kill", Process.Kill)
	case actionCleanup:
		s.cleanup()
	case actionNotifyStarted:
		s.emit(Event{Kind: EventStarted})
	case actionNotifyStopped:
		s.emit(Event{Kind: EventStopped, ExitCode: ev.exitCode})
	case actionNotifyBridge:
		s.emit(Event{Kind: EventBridgeConnected})
	case actionFatalLaunch:
		s.fatal(s.lastErr)
	case actionFatalRetries:
		s.fatal(&LifecycleError{
			VM:       s.name,
			Err:      ErrRetriesExhausted,
			ExitCode: ev.exitCode,
		})
	case actionShutdown:
		s.shutdown = true
	}

	return event{}, false
}

func (s *Supervisor) emit(ev Event) {
	ev.VM = s.name

	select {
	case s.events <- ev:
	default:
		slog.Debug("Event dropped",
			slog.String("vm", s.name),
			slog.String("event", ev.Kind.String()))
	}
}

func (s *Supervisor) fatal(err error) {
	slog.Warn("VM failed", slog.String("vm", s.name), slog.Any("error", err))
	metrics.Get().VMFatal.WithLabelValues(s.name).Inc()
	s.emit(Event{Kind: EventFatal, Err: err})
}

func (s *Supervisor) signal(name string, f func(Process) error) {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil || r.proc == nil {
		return
	}

	err := f(r.proc)
	if err != nil {
		slog.Warn("Signaling VM process failed",
			slog.String("vm", s.name),
			slog.String("signal", name),
			slog.Any("error", err))
	}
}

func (s *Supervisor) listenTunnel() error {
	filter := tunnel.Filter{ID: tunnel.Host, Port: s.id}

	err := s.tunnel.Listen(s.tunPath, filter)
	if err != nil {
		return fmt.Errorf("listen tunnel: %w", err)
	}

	if !s.deps.Vsock {
		return nil
	}

	err = s.tunnel.ListenVsock(s.id, filter)
	if err != nil {
		_ = s.tunnel.Close()
		return fmt.Errorf("listen vsock: %w", err)
	}

	return nil
}

// launch launches a new VM process. It returns the event of the result.
func (s *Supervisor) launch() event {
	s.gen++
	r := &run{
		gen:     s.gen,
		console: &sock.Listener{},
		relay:   console.NewRelay(s.name),
	}

	s.setRun(r)

	err := s.prepareLaunch(r)
	if err != nil {
		s.lastErr = &LifecycleError{
			VM:  s.name,
			Err: fmt.Errorf("%w: %w", ErrLaunchFailed, err),
		}

		return event{trigger: triggerLaunchFailed}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(2)

	go func() {
		defer r.wg.Done()

		err := r.relay.Serve(ctx, r.console)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Console relay failed",
				slog.String("vm", s.name),
				slog.Any("error", err))
		}
	}()

	go func() {
		defer r.wg.Done()
		s.acceptBridges(ctx, r)
	}()

	go func() {
		code, err := r.proc.Wait()

		select {
		case s.exits <- exitMsg{gen: r.gen, code: code, err: err}:
		case <-s.done:
		}
	}()

	metrics.Get().VMStarts.WithLabelValues(s.name, s.lc.reason).Inc()
	metrics.Get().VMsRunning.Inc()

	slog.Info("VM launched",
		slog.String("vm", s.name),
		slog.Uint64("guest_id", uint64(s.id)),
		slog.String("reason", s.lc.reason),
		slog.Int("retries", s.lc.retries))

	return event{trigger: triggerLaunched}
}

func (s *Supervisor) prepareLaunch(r *run) error {
	err := r.console.Listen(sock.TempPath("vslides-console"))
	if err != nil {
		return fmt.Errorf("listen console: %w", err)
	}

	if !s.tunnel.Listening() {
		err := s.listenTunnel()
		if err != nil {
			return err
		}
	}

	s.dropPendingBridges()

	spec, err := s.deps.Config.commandSpec()
	if err != nil {
		return err
	}

	spec.ConsoleSocket = r.console.Addr()
	spec.GuestID = s.id
	spec.NICs = s.nics

	proc, err := s.deps.Launcher.Launch(spec)
	if err != nil {
		return err //nolint:wrapcheck
	}

	s.mu.Lock()
	r.proc = proc
	s.mu.Unlock()

	return nil
}

// acceptBridges serves the guest bridge on all tunnel connections of the run.
func (s *Supervisor) acceptBridges(ctx context.Context, r *run) {
	for {
		conn, err := s.tunnel.Accept(ctx)
		if err != nil {
			return
		}

		slog.Debug("Guest bridge connected",
			slog.String("vm", s.name),
			slog.String("key", conn.Key().String()))

		select {
		case s.bridges <- r.gen:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}

		r.wg.Add(1)

		go func() {
			defer r.wg.Done()
			defer conn.Close()

			err := bridge.Serve(ctx, conn, machine{s})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("Guest bridge closed",
					slog.String("vm", s.name),
					slog.Any("error", err))
			}
		}()
	}
}

func (s *Supervisor) dropPendingBridges() {
	for conn := s.tunnel.NextPending(); conn != nil; conn = s.tunnel.NextPending() {
		_ = conn.Close()
	}
}

// cleanup releases the resources of the current run.
func (s *Supervisor) cleanup() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	if r == nil {
		return
	}

	if r.cancel != nil {
		r.cancel()
	}

	err := r.console.Close()
	if err != nil {
		slog.Warn("Closing console listener failed",
			slog.String("vm", s.name),
			slog.Any("error", err))
	}

	r.relay.Close()

	r.wg.Wait()

	if r.proc != nil {
		metrics.Get().VMsRunning.Dec()
	}

	s.dropPendingBridges()
	s.setRun(nil)
}

func (s *Supervisor) setRun(r *run) {
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()
}
