// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"os/exec"

	"github.com/loliting/VirtualSlides/internal/supervisor"
	"github.com/loliting/VirtualSlides/internal/sys"
)

// validate checks the files of the given [supervisor.Config] are actually
// present.
func validate(cfg supervisor.Config) error {
	if cfg.Executable != "" {
		_, err := exec.LookPath(cfg.Executable)
		if err != nil {
			return fmt.Errorf("qemu binary: %w", err)
		}
	}

	err := sys.FilePath(cfg.Kernel).Check()
	if err != nil {
		return fmt.Errorf("kernel file: %w", err)
	}

	err = sys.FilePath(cfg.DiskImage).Check()
	if err != nil {
		return fmt.Errorf("disk image: %w", err)
	}

	return nil
}
