// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"os"
	"runtime"
)

// Arch is a guest CPU architecture.
type Arch string

// Supported guest architectures.
const (
	AMD64   Arch = "amd64"
	ARM64   Arch = "arm64"
	RISCV64 Arch = "riscv64"
)

// Native is the architecture of the host. Using the same architecture for the
// guest allows using KVM, if available. Use [Arch.KVMAvailable] to check.
const Native Arch = Arch(runtime.GOARCH)

// kvmDevice is a variable so tests can point it elsewhere.
var kvmDevice = "/dev/kvm"

func (a *Arch) String() string {
	return string(*a)
}

// IsNative returns true if the architecture is the host's one.
func (a *Arch) IsNative() bool {
	return Native == *a
}

// KVMAvailable checks if KVM support is available for the given architecture.
func (a *Arch) KVMAvailable() bool {
	if !a.IsNative() {
		return false
	}

	f, err := os.OpenFile(kvmDevice, os.O_WRONLY, 0)
	if err != nil {
		return false
	}

	_ = f.Close()

	return true
}

// QEMUTarget returns the QEMU system emulation target of the architecture, as
// used in the "qemu-system-*" binary names. It is empty for unsupported
// architectures.
func (a *Arch) QEMUTarget() string {
	switch *a {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	case RISCV64:
		return "riscv64"
	default:
		return ""
	}
}

// Set implements [flag.Value].
func (a *Arch) Set(s string) error {
	arch := Arch(s)
	if arch.QEMUTarget() == "" {
		return ErrArchNotSupported
	}

	*a = arch

	return nil
}
