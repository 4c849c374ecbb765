// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor

import (
	"github.com/loliting/VirtualSlides/internal/bridge"
	"github.com/loliting/VirtualSlides/internal/task"
)

// Definition is the guest side definition of a VM as served to the guest
// via the bridge.
type Definition struct {
	Name         string
	Hostname     string
	Motd         string
	InstallFiles []bridge.InstallFile
	InitScripts  []bridge.InitScript
	Tasks        task.List
}

// machine answers bridge requests for a [Supervisor].
type machine struct {
	sup *Supervisor
}

var _ bridge.Machine = machine{}

func (m machine) Hostname() string {
	return m.sup.def.Hostname
}

func (m machine) Motd() string {
	return m.sup.def.Motd
}

func (m machine) InstallFiles() []bridge.InstallFile {
	return m.sup.def.InstallFiles
}

func (m machine) InitScripts() []bridge.InitScript {
	return m.sup.def.InitScripts
}

func (m machine) Tasks() task.List {
	return m.sup.def.Tasks
}

// RequestRestart marks the VM to be started again once the process exits.
// The guest is expected to shut down on its own.
func (m machine) RequestRestart() {
	m.sup.reboot.Store(true)
}

func (m machine) TermSize() (int, int) {
	size := m.sup.TermSize()
	return size.Rows, size.Cols
}
