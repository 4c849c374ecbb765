// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package vmdef

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loliting/VirtualSlides/internal/task"
)

// Network is a virtual network shared by VMs.
type Network struct {
	ID  string `yaml:"id"`
	WAN bool   `yaml:"wan,omitempty"`
}

// File is a file installed in the guest on boot. The content is either given
// inline or read from Source on the host.
type File struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content,omitempty"`
	Source  string `yaml:"source,omitempty"`
	UID     uint32 `yaml:"uid,omitempty"`
	GID     uint32 `yaml:"gid,omitempty"`
	// Perm is the octal file mode, like "0644".
	Perm string `yaml:"perm,omitempty"`
}

// Script is an executable run in the guest on boot. The content is either
// given inline or read from Source on the host.
type Script struct {
	Content string `yaml:"content,omitempty"`
	Source  string `yaml:"source,omitempty"`
}

// Subtask is a single check of a [Task].
type Subtask struct {
	ID       string    `yaml:"id,omitempty"`
	Type     task.Type `yaml:"type"`
	Command  string    `yaml:"command,omitempty"`
	Args     []string  `yaml:"args,omitempty"`
	ExitCode int       `yaml:"exit_code,omitempty"`
	Path     string    `yaml:"path,omitempty"`
	Content  string    `yaml:"content,omitempty"`
}

// Task is an exercise for the audience.
type Task struct {
	ID       string     `yaml:"id"`
	Paths    [][]string `yaml:"paths,omitempty"`
	Subtasks []Subtask  `yaml:"subtasks"`
}

// VM is the definition of a single VM.
type VM struct {
	ID           string   `yaml:"id"`
	Image        string   `yaml:"image"`
	Network      string   `yaml:"network,omitempty"`
	Hostname     string   `yaml:"hostname,omitempty"`
	Motd         string   `yaml:"motd,omitempty"`
	InstallFiles []File   `yaml:"install_files,omitempty"`
	InitScripts  []Script `yaml:"init_scripts,omitempty"`
	Tasks        []Task   `yaml:"tasks,omitempty"`
}

// Presentation holds all networks and VMs of a presentation.
type Presentation struct {
	Networks []Network `yaml:"networks,omitempty"`
	VMs      []VM      `yaml:"vms"`

	baseDir string
}

// LoadPresentation reads and parses a presentation file.
func LoadPresentation(path string) (*Presentation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presentation: %w", err)
	}

	return ParsePresentation(data, filepath.Dir(path))
}

// ParsePresentation parses a presentation. Relative host paths are resolved
// relative to baseDir.
func ParsePresentation(data []byte, baseDir string) (*Presentation, error) {
	pres := Presentation{baseDir: baseDir}

	err := yaml.Unmarshal(data, &pres)
	if err != nil {
		return nil, fmt.Errorf("parse presentation: %w", err)
	}

	networks := make(map[string]bool, len(pres.Networks))

	for _, network := range pres.Networks {
		if network.ID == "" {
			return nil, fmt.Errorf("%w: network id", ErrMissingField)
		}

		if networks[network.ID] {
			return nil, fmt.Errorf("%w: network %s", ErrDuplicate, network.ID)
		}

		networks[network.ID] = true
	}

	vms := make(map[string]bool, len(pres.VMs))

	for _, vm := range pres.VMs {
		switch {
		case vm.ID == "":
			return nil, fmt.Errorf("%w: vm id", ErrMissingField)
		case vm.Image == "":
			return nil, fmt.Errorf("%w: vm %s: image", ErrMissingField, vm.ID)
		case vms[vm.ID]:
			return nil, fmt.Errorf("%w: vm %s", ErrDuplicate, vm.ID)
		case vm.Network != "" && !networks[vm.Network]:
			return nil, fmt.Errorf("%w: vm %s: %s", ErrUnknownNetwork, vm.ID, vm.Network)
		}

		vms[vm.ID] = true
	}

	return &pres, nil
}

// FilePath returns the host path of a file referenced by the presentation.
func (p *Presentation) FilePath(path string) string {
	return resolve(p.baseDir, path)
}

// VM returns the VM with the given id.
func (p *Presentation) VM(id string) (VM, bool) {
	for _, vm := range p.VMs {
		if vm.ID == id {
			return vm, true
		}
	}

	return VM{}, false
}

// Network returns the network with the given id.
func (p *Presentation) Network(id string) (Network, bool) {
	for _, network := range p.Networks {
		if network.ID == id {
			return network, true
		}
	}

	return Network{}, false
}
