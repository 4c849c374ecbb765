// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor

// MaxRetries is the number of automatic restarts of a guest that exits before
// its bridge connected.
const MaxRetries = 3

// State is the lifecycle state of a VM.
type State int

// Lifecycle states. A VM cycles Stopped, Starting, Running, Stopping and
// Stopped again.
const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Launch reasons.
const (
	reasonStart   = "start"
	reasonRestart = "restart"
	reasonRetry   = "retry"
)

type trigger int

const (
	triggerStart trigger = iota
	triggerStop
	triggerRestart
	triggerLaunched
	triggerLaunchFailed
	triggerBridgeConnected
	triggerExited
	triggerClose
)

type event struct {
	trigger  trigger
	exitCode int
	// reboot is set on exit if the guest asked to be restarted.
	reboot bool
}

type action int

const (
	actionLaunch action = iota
	actionTerminate
	actionKill
	actionCleanup
	actionNotifyStarted
	actionNotifyStopped
	actionNotifyBridge
	actionFatalLaunch
	actionFatalRetries
	actionShutdown
)

// lifecycle is the lifecycle state of a VM. All transitions are done by
// [lifecycle.next].
type lifecycle struct {
	state           State
	retries         int
	restart         bool
	stopRequested   bool
	bridgeConnected bool
	closing         bool
	reason          string
}

// next returns the lifecycle after the event and the actions to run in order.
func (l lifecycle) next(ev event) (lifecycle, []action) {
	switch ev.trigger {
	case triggerStart:
		switch {
		case l.closing:
			return l, nil
		case l.state == Stopped:
			l.retries = 0
			return l.begin(reasonStart)
		case l.state == Stopping:
			l.restart = true
		}

		return l, nil

	case triggerStop:
		l.restart = false

		if l.state != Running {
			return l, nil
		}

		l.state = Stopping
		l.stopRequested = true

		return l, []action{actionTerminate}

	case triggerRestart:
		switch {
		case l.closing:
			return l, nil
		case l.state == Stopped:
			return l.begin(reasonRestart)
		case l.state == Running:
			l.restart = true
			l.state = Stopping
			l.stopRequested = true

			return l, []action{actionTerminate}
		}

		l.restart = true

		return l, nil

	case triggerLaunched:
		if l.state != Starting {
			return l, nil
		}

		l.state = Running

		return l, []action{actionNotifyStarted}

	case triggerLaunchFailed:
		l.state = Stopped
		l.restart = false

		if l.closing {
			return l, []action{actionCleanup, actionShutdown}
		}

		return l, []action{actionCleanup, actionFatalLaunch}

	case triggerBridgeConnected:
		if l.state == Stopped {
			return l, nil
		}

		l.bridgeConnected = true
		l.retries = 0

		return l, []action{actionNotifyBridge}

	case triggerExited:
		return l.exited(ev)

	case triggerClose:
		if l.closing {
			return l, nil
		}

		l.closing = true
		l.restart = false

		if l.state == Stopped {
			return l, []action{actionShutdown}
		}

		l.state = Stopping

		return l, []action{actionKill}
	}

	return l, nil
}

func (l lifecycle) begin(reason string) (lifecycle, []action) {
	l.state = Starting
	l.reason = reason
	l.restart = false
	l.stopRequested = false
	l.bridgeConnected = false

	return l, []action{actionLaunch}
}

func (l lifecycle) exited(ev event) (lifecycle, []action) {
	if l.state == Stopped {
		return l, nil
	}

	l.state = Stopped
	actions := []action{actionCleanup, actionNotifyStopped}

	var follow []action

	switch {
	case l.closing:
		return l, append(actions, actionShutdown)
	case l.restart || ev.reboot:
		l, follow = l.begin(reasonRestart)
	case l.stopRequested:
	case !l.bridgeConnected && l.retries < MaxRetries:
		l.retries++
		l, follow = l.begin(reasonRetry)
	case l.retries >= MaxRetries && ev.exitCode != 0:
		follow = []action{actionFatalRetries}
	}

	return l, append(actions, follow...)
}
