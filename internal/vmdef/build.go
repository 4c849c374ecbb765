// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package vmdef

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/loliting/VirtualSlides/internal/bridge"
	"github.com/loliting/VirtualSlides/internal/supervisor"
	"github.com/loliting/VirtualSlides/internal/task"
)

const defaultPerm = 0o644

// Definition builds the guest side definition of the VM. Host files
// referenced by the VM are read.
func (p *Presentation) Definition(vm VM) (supervisor.Definition, error) {
	def := supervisor.Definition{
		Name:     vm.ID,
		Hostname: vm.Hostname,
		Motd:     vm.Motd,
	}

	if def.Hostname == "" {
		def.Hostname = vm.ID
	}

	for _, file := range vm.InstallFiles {
		installFile, err := p.installFile(file)
		if err != nil {
			return def, fmt.Errorf("vm %s: %w", vm.ID, err)
		}

		def.InstallFiles = append(def.InstallFiles, installFile)
	}

	for idx, script := range vm.InitScripts {
		content, err := p.content(script.Content, script.Source)
		if err != nil {
			return def, fmt.Errorf("vm %s: init script %d: %w", vm.ID, idx, err)
		}

		def.InitScripts = append(def.InitScripts, bridge.InitScript{
			Content: []byte(content),
		})
	}

	for _, taskDef := range vm.Tasks {
		tsk, err := buildTask(taskDef)
		if err != nil {
			return def, fmt.Errorf("vm %s: task %s: %w", vm.ID, taskDef.ID, err)
		}

		def.Tasks = append(def.Tasks, tsk)
	}

	return def, nil
}

func (p *Presentation) installFile(file File) (bridge.InstallFile, error) {
	if file.Path == "" {
		return bridge.InstallFile{}, fmt.Errorf("%w: install file path", ErrMissingField)
	}

	perm := uint64(defaultPerm)

	if file.Perm != "" {
		var err error

		perm, err = strconv.ParseUint(file.Perm, 8, 32)
		if err != nil {
			return bridge.InstallFile{}, fmt.Errorf("%w: %s: %s", ErrInvalidPerm, file.Path, file.Perm)
		}
	}

	content, err := p.content(file.Content, file.Source)
	if err != nil {
		return bridge.InstallFile{}, fmt.Errorf("install file %s: %w", file.Path, err)
	}

	return bridge.InstallFile{
		Content: content,
		Path:    file.Path,
		UID:     file.UID,
		GID:     file.GID,
		Perm:    uint32(perm),
	}, nil
}

// content returns the inline content or the content of the source file, if
// given.
func (p *Presentation) content(inline, source string) (string, error) {
	if source == "" {
		return inline, nil
	}

	data, err := os.ReadFile(p.FilePath(source))
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}

	return string(data), nil
}

func buildTask(def Task) (*task.Task, error) {
	subtasks := make([]*task.Subtask, 0, len(def.Subtasks))

	for _, sub := range def.Subtasks {
		id := sub.ID
		if id == "" {
			id = uuid.NewString()
		}

		switch sub.Type {
		case task.TypeCommand:
			subtasks = append(subtasks,
				task.CommandSubtask(id, sub.Command, sub.Args, sub.ExitCode))
		case task.TypeFile:
			subtasks = append(subtasks,
				task.FileSubtask(id, sub.Path, sub.Content))
		default:
			return nil, fmt.Errorf("subtask %s: %w", id, task.ErrInvalidType)
		}
	}

	return task.New(def.ID, def.Paths, subtasks) //nolint:wrapcheck
}

// SupervisorConfig builds the host side configuration of the VM.
func (c *Config) SupervisorConfig(vm VM) (supervisor.Config, error) {
	image, err := c.Image(vm.Image)
	if err != nil {
		return supervisor.Config{}, fmt.Errorf("vm %s: %w", vm.ID, err)
	}

	return supervisor.Config{
		Kernel:     c.Kernel,
		DiskImage:  image.Path,
		InitSystem: image.Init,
		Memory:     c.Memory,
		SMP:        c.CPUs,
		NoKVM:      c.NoKVM,
	}, nil
}
