// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor

import (
	"fmt"
	"io"
	"net"

	"github.com/loliting/VirtualSlides/internal/qemu"
	"github.com/loliting/VirtualSlides/internal/sys"
)

// Config is the host side configuration of a VM.
type Config struct {
	// Arch is the guest architecture. Defaults to [sys.Native].
	Arch sys.Arch

	// Executable is the QEMU binary. Defaults to the one for Arch.
	Executable string

	// Machine is the QEMU machine type. Defaults to the one for Arch.
	Machine string

	// CPU is the QEMU CPU type.
	CPU string

	// Kernel is the path of the guest kernel.
	Kernel string

	// DiskImage is the path of the raw root file system image.
	DiskImage string

	// InitSystem is the init program in the guest root file system.
	InitSystem string

	// Memory is the guest memory size in MB.
	Memory uint64

	// SMP is the number of guest CPUs.
	SMP uint64

	// NoKVM disables KVM.
	NoKVM bool

	// TransportType is the IO transport. Defaults to the one for Arch.
	TransportType qemu.TransportType

	// KernelArgs are appended to the kernel command line.
	KernelArgs []string

	// ExtraArgs are passed to QEMU as is.
	ExtraArgs []qemu.Argument

	// Verbose increases guest kernel logging.
	Verbose bool
}

// commandSpec returns the QEMU command for a single run.
func (c *Config) commandSpec() (qemu.CommandSpec, error) {
	spec := qemu.CommandSpec{
		Executable:    c.Executable,
		Machine:       c.Machine,
		CPU:           c.CPU,
		Kernel:        c.Kernel,
		DiskImage:     c.DiskImage,
		InitSystem:    c.InitSystem,
		Memory:        c.Memory,
		SMP:           c.SMP,
		NoKVM:         c.NoKVM,
		TransportType: c.TransportType,
		KernelArgs:    c.KernelArgs,
		ExtraArgs:     c.ExtraArgs,
		Verbose:       c.Verbose,
	}

	arch := c.Arch
	if arch == "" {
		arch = sys.Native
	}

	err := spec.AddDefaultsFor(arch)
	if err != nil {
		return spec, fmt.Errorf("defaults for %s: %w", arch, err)
	}

	return spec, nil
}

// Network is the virtual network a VM is attached to.
type Network interface {
	McastAddr() string
	HasWAN() bool
	MAC(vm string, nic int) net.HardwareAddr
}

// Process is a launched VM process.
type Process interface {
	// Wait blocks until the process exited and returns its exit code.
	Wait() (int, error)

	// Terminate asks the process to shut down.
	Terminate() error

	// Kill stops the process immediately.
	Kill() error
}

// Launcher launches VM processes.
type Launcher interface {
	Launch(spec qemu.CommandSpec) (Process, error)
}

// QEMULauncher launches QEMU processes.
type QEMULauncher struct {
	// Stderr receives the QEMU stderr output, if set.
	Stderr io.Writer
}

// Launch implements [Launcher].
func (l QEMULauncher) Launch(spec qemu.CommandSpec) (Process, error) {
	cmd, err := qemu.NewCommand(spec, l.Stderr)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	err = cmd.Start()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return cmd, nil
}

// Deps are the collaborators of a [Supervisor].
type Deps struct {
	// Config is the host side VM configuration.
	Config Config

	// Network is the network the VM is attached to. Optional.
	Network Network

	// Launcher launches the VM processes. Defaults to [QEMULauncher].
	Launcher Launcher

	// IDs hands out the guest id. Defaults to a process wide allocator.
	IDs *IDAllocator

	// Vsock enables the host virtio socket listener guests connect to. It
	// requires the vhost_vsock kernel module. Without it, guest bridges can
	// only connect through the tunnel socket.
	Vsock bool
}
