// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor_test

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/loliting/VirtualSlides/internal/bridge"
	"github.com/loliting/VirtualSlides/internal/console"
	"github.com/loliting/VirtualSlides/internal/qemu"
	"github.com/loliting/VirtualSlides/internal/sock"
	"github.com/loliting/VirtualSlides/internal/supervisor"
	"github.com/loliting/VirtualSlides/internal/tunnel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcess struct {
	spec qemu.CommandSpec
	once sync.Once
	code int
	done chan struct{}
}

func newFakeProcess(spec qemu.CommandSpec) *fakeProcess {
	return &fakeProcess{
		spec: spec,
		done: make(chan struct{}),
	}
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.code = code
		close(p.done)
	})
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *fakeProcess) Terminate() error {
	p.exit(0)
	return nil
}

func (p *fakeProcess) Kill() error {
	p.exit(-1)
	return nil
}

// fakeLauncher launches fake processes. If crash is set, processes exit
// with code 1 right away.
type fakeLauncher struct {
	crash bool
	err   error

	mu        sync.Mutex
	processes []*fakeProcess
	launched  chan *fakeProcess
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		launched: make(chan *fakeProcess, 16),
	}
}

func (l *fakeLauncher) Launch(spec qemu.CommandSpec) (supervisor.Process, error) {
	if l.err != nil {
		return nil, l.err
	}

	proc := newFakeProcess(spec)

	l.mu.Lock()
	l.processes = append(l.processes, proc)
	l.mu.Unlock()

	if l.crash {
		proc.exit(1)
	} else {
		l.launched <- proc
	}

	return proc, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.processes)
}

func (l *fakeLauncher) next(t *testing.T) *fakeProcess {
	t.Helper()

	select {
	case proc := <-l.launched:
		return proc
	case <-time.After(testTimeout):
		require.FailNow(t, "no process launched")
		return nil
	}
}

type testNetwork struct{}

func (testNetwork) McastAddr() string { return "224.0.0.69:42069" }

func (testNetwork) HasWAN() bool { return true }

func (testNetwork) MAC(_ string, nic int) net.HardwareAddr {
	return net.HardwareAddr{0x52, 0x54, 0x00, 0x01, 0x02, byte(nic)}
}

func newSupervisor(t *testing.T, launcher supervisor.Launcher) *supervisor.Supervisor {
	t.Helper()

	sup, err := supervisor.New(supervisor.Definition{
		Name:     "demo",
		Hostname: "demo-host",
		Motd:     "Hello",
	}, supervisor.Deps{
		Config: supervisor.Config{
			Kernel:    "/boot/vmlinuz",
			DiskImage: "/images/demo.img",
			Memory:    256,
			SMP:       2,
			NoKVM:     true,
		},
		Network:  testNetwork{},
		Launcher: launcher,
		IDs:      supervisor.NewIDAllocator(42),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, sup.Close())
	})

	return sup
}

func nextEvent(t *testing.T, sup *supervisor.Supervisor) supervisor.Event {
	t.Helper()

	select {
	case ev, ok := <-sup.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(testTimeout):
		require.FailNow(t, "no event")
		return supervisor.Event{}
	}
}

func expectEvents(t *testing.T, sup *supervisor.Supervisor, kinds ...supervisor.EventKind) []supervisor.Event {
	t.Helper()

	events := make([]supervisor.Event, 0, len(kinds))

	for _, kind := range kinds {
		ev := nextEvent(t, sup)
		require.Equal(t, kind, ev.Kind, "got %s, expected %s", ev.Kind, kind)

		events = append(events, ev)
	}

	return events
}

func TestSupervisor_Spec(t *testing.T) {
	launcher := newFakeLauncher()
	sup := newSupervisor(t, launcher)

	require.NoError(t, sup.Start(t.Context()))
	expectEvents(t, sup, supervisor.EventStarted)

	spec := launcher.next(t).spec

	assert.Equal(t, uint32(42), sup.GuestID())
	assert.Equal(t, sup.GuestID(), spec.GuestID)
	assert.Equal(t, sup.ConsolePath(), spec.ConsoleSocket)
	assert.Equal(t, "/images/demo.img", spec.DiskImage)
	assert.Equal(t, uint64(256), spec.Memory)
	assert.Equal(t, []qemu.NIC{
		{MAC: "52:54:00:01:02:00", McastAddr: "224.0.0.69:42069"},
		{MAC: "52:54:00:01:02:01"},
	}, spec.NICs)
	assert.Equal(t, supervisor.Running, sup.State())

	require.NoError(t, sup.Start(t.Context()), "no-op while running")
	assert.Equal(t, 1, launcher.count())
}

func TestSupervisor_RetryBound(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.crash = true

	sup := newSupervisor(t, launcher)

	require.NoError(t, sup.Start(t.Context()))

	kinds := []supervisor.EventKind{}
	for range supervisor.MaxRetries + 1 {
		kinds = append(kinds, supervisor.EventStarted, supervisor.EventStopped)
	}

	kinds = append(kinds, supervisor.EventFatal)

	events := expectEvents(t, sup, kinds...)

	fatal := events[len(events)-1].Err
	require.ErrorIs(t, fatal, supervisor.ErrRetriesExhausted)
	require.ErrorIs(t, fatal, &supervisor.LifecycleError{})

	assert.Equal(t, 1+supervisor.MaxRetries, launcher.count())
	assert.Equal(t, supervisor.Stopped, sup.State())
	assert.Equal(t, supervisor.MaxRetries, sup.Retries())
}

func TestSupervisor_LaunchFailure(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.err = errors.New("no qemu")

	sup := newSupervisor(t, launcher)

	err := sup.Start(t.Context())
	require.ErrorIs(t, err, supervisor.ErrLaunchFailed)

	ev := expectEvents(t, sup, supervisor.EventFatal)[0]
	require.ErrorIs(t, ev.Err, supervisor.ErrLaunchFailed)
	assert.Equal(t, supervisor.Stopped, sup.State())
	assert.Empty(t, sup.ConsolePath())
}

func TestSupervisor_Stop(t *testing.T) {
	launcher := newFakeLauncher()
	sup := newSupervisor(t, launcher)

	require.NoError(t, sup.Stop(), "no-op while stopped")

	require.NoError(t, sup.Start(t.Context()))
	launcher.next(t)

	require.NoError(t, sup.Stop())

	events := expectEvents(t, sup, supervisor.EventStarted, supervisor.EventStopped)
	assert.Equal(t, 0, events[1].ExitCode)

	assert.Equal(t, supervisor.Stopped, sup.State())
	assert.Equal(t, 1, launcher.count(), "no retry after stop")
	assert.Empty(t, sup.ConsolePath())
}

func TestSupervisor_Restart(t *testing.T) {
	launcher := newFakeLauncher()
	sup := newSupervisor(t, launcher)

	require.NoError(t, sup.Start(t.Context()))
	first := launcher.next(t)

	require.NoError(t, sup.Restart())
	second := launcher.next(t)

	expectEvents(t, sup,
		supervisor.EventStarted,
		supervisor.EventStopped,
		supervisor.EventStarted,
	)

	assert.Equal(t, first.spec.GuestID, second.spec.GuestID)
	assert.NotEqual(t, first.spec.ConsoleSocket, second.spec.ConsoleSocket)
	assert.Equal(t, supervisor.Running, sup.State())
}

func TestSupervisor_Close(t *testing.T) {
	launcher := newFakeLauncher()

	sup, err := supervisor.New(supervisor.Definition{Name: "demo"}, supervisor.Deps{
		Config: supervisor.Config{
			Kernel:    "/boot/vmlinuz",
			DiskImage: "/images/demo.img",
			Memory:    256,
			NoKVM:     true,
		},
		Launcher: launcher,
	})
	require.NoError(t, err)

	require.NoError(t, sup.Start(t.Context()))
	proc := launcher.next(t)

	require.NoError(t, sup.Close())
	require.NoError(t, sup.Close(), "second close")

	assert.Equal(t, -1, proc.code, "killed")

	require.ErrorIs(t, sup.Start(t.Context()), supervisor.ErrClosed)

	kinds := []supervisor.EventKind{}
	for ev := range sup.Events() {
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []supervisor.EventKind{
		supervisor.EventStarted,
		supervisor.EventStopped,
	}, kinds)
}

func TestSupervisor_Vsock(t *testing.T) {
	sup, err := supervisor.New(supervisor.Definition{Name: "demo"}, supervisor.Deps{
		Launcher: newFakeLauncher(),
		IDs:      supervisor.NewIDAllocator(52630),
		Vsock:    true,
	})
	if err != nil {
		require.ErrorIs(t, err, &sock.SystemError{})
		t.Skipf("vsock not available: %v", err)
	}

	t.Cleanup(func() { require.NoError(t, sup.Close()) })

	// The guest port is taken by the supervisor.
	other := &sock.Listener{}
	err = other.ListenVsock(sup.GuestID())
	require.ErrorIs(t, err, &sock.SystemError{})

	// Host side clients still use the tunnel socket.
	dialBridge(t, sup)
}

func dialBridge(t *testing.T, sup *supervisor.Supervisor) *tunnel.Conn {
	t.Helper()

	conn, err := tunnel.Dial(sup.TunnelPath(), tunnel.Key{
		HostID:   tunnel.Host,
		GuestID:  uint64(sup.GuestID()),
		HostPort: sup.GuestID(),
	}, testTimeout)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func request(t *testing.T, conn *tunnel.Conn, record string) map[string]any {
	t.Helper()

	_, err := conn.Write(bridge.AppendFrame(nil, []byte(record)))
	require.NoError(t, err)

	var frames bridge.FrameBuffer

	deadline := time.After(testTimeout)

	for {
		_, _ = frames.Write(conn.ReadAll())

		if payload, ok := frames.Next(); ok {
			var resp map[string]any
			require.NoError(t, json.Unmarshal(payload, &resp))

			return resp
		}

		select {
		case <-conn.Readable():
		case <-conn.Done():
			require.FailNow(t, "bridge closed")
		case <-deadline:
			require.FailNow(t, "no response")
		}
	}
}

func TestSupervisor_Bridge(t *testing.T) {
	launcher := newFakeLauncher()
	sup := newSupervisor(t, launcher)

	require.NoError(t, sup.Start(t.Context()))
	proc := launcher.next(t)

	conn := dialBridge(t, sup)

	expectEvents(t, sup, supervisor.EventStarted, supervisor.EventBridgeConnected)

	resp := request(t, conn, `{"type":"getHostname"}`)
	assert.Equal(t, "demo-host", resp["hostname"])

	resp = request(t, conn, `{"type":"getTermSize"}`)
	assert.InDelta(t, console.DefaultSize.Rows, resp["termHeight"], 0)

	// A crash after the bridge connected is a regular stop.
	proc.exit(1)

	events := expectEvents(t, sup, supervisor.EventStopped)
	assert.Equal(t, 1, events[0].ExitCode)

	select {
	case <-conn.Done():
	case <-time.After(testTimeout):
		require.FailNow(t, "bridge not closed on exit")
	}

	assert.Equal(t, supervisor.Stopped, sup.State())
	assert.Equal(t, 1, launcher.count())
}

func TestSupervisor_BridgeWrongPort(t *testing.T) {
	launcher := newFakeLauncher()
	sup := newSupervisor(t, launcher)

	require.NoError(t, sup.Start(t.Context()))
	launcher.next(t)

	_, err := tunnel.Dial(sup.TunnelPath(), tunnel.Key{
		HostID:   tunnel.Host,
		HostPort: sup.GuestID() + 1,
	}, testTimeout)
	require.ErrorIs(t, err, tunnel.ErrConnectionRefused)
}

func TestSupervisor_Reboot(t *testing.T) {
	launcher := newFakeLauncher()
	sup := newSupervisor(t, launcher)

	require.NoError(t, sup.Start(t.Context()))
	proc := launcher.next(t)

	conn := dialBridge(t, sup)

	resp := request(t, conn, `{"type":"reboot"}`)
	assert.Equal(t, bridge.StatusOK, resp["status"])

	proc.exit(0)
	launcher.next(t)

	expectEvents(t, sup,
		supervisor.EventStarted,
		supervisor.EventBridgeConnected,
		supervisor.EventStopped,
		supervisor.EventStarted,
	)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)

	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return string(b.buf)
}

func TestSupervisor_Console(t *testing.T) {
	launcher := newFakeLauncher()
	sup := newSupervisor(t, launcher)

	_, err := sup.AttachViewer(&syncBuffer{}, console.DefaultSize)
	require.ErrorIs(t, err, supervisor.ErrNotRunning)

	require.NoError(t, sup.Start(t.Context()))
	proc := launcher.next(t)

	var out syncBuffer

	viewer, err := sup.AttachViewer(&out, console.Size{Rows: 30, Cols: 100})
	require.NoError(t, err)

	assert.Equal(t, console.Size{Rows: 30, Cols: 100}, sup.TermSize())

	guest, err := sock.Dial(proc.spec.ConsoleSocket)
	require.NoError(t, err)

	t.Cleanup(func() { _ = guest.Close() })

	_, err = guest.Write([]byte("login: "))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return out.String() == "login: "
	}, testTimeout, time.Millisecond)

	_, err = viewer.Write([]byte("root\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return guest.BytesAvailable() == 5
	}, testTimeout, time.Millisecond)

	proc.exit(0)

	select {
	case <-viewer.Done():
	case <-time.After(testTimeout):
		require.FailNow(t, "viewer not detached on exit")
	}
}
