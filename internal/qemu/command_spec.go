// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loliting/VirtualSlides/internal/sys"
)

// MinGuestID is the lowest vsock context id usable for guests. Lower ones are
// reserved for the hypervisor, local loopback and the host.
const MinGuestID = 3

const (
	machineTypeMicroVM = "microvm"
	machineTypePC      = "pc"
	machineTypeQ35     = "q35"
	machineTypeVirt    = "virt"
)

const (
	consoleID = "con0"
	diskID    = "disk0"
)

// NIC is a guest network interface.
type NIC struct {
	// MAC address of the interface.
	MAC string

	// McastAddr is the "group:port" address of the multicast socket the
	// interface is connected to. All guests using the same address share a
	// network segment. If empty, the interface uses QEMU user networking and
	// so has access to the host's network.
	McastAddr string
}

func (n NIC) netdev(id string) string {
	if n.McastAddr == "" {
		return "user,id=" + id
	}

	return fmt.Sprintf("socket,id=%s,mcast=%s", id, n.McastAddr)
}

// CommandSpec defines the parameters for a [Command].
type CommandSpec struct {
	// Path to the qemu-system binary
	Executable string

	// QEMU machine type to use. Depends on the QEMU binary used.
	Machine string

	// CPU type to use. Depends on machine type and QEMU binary used.
	CPU string

	// Path to the kernel to boot.
	Kernel string

	// Path to the raw disk image used as root file system.
	DiskImage string

	// Path of the init program in the guest's root file system.
	InitSystem string

	// Number of CPUs for the guest.
	SMP uint64

	// Memory for the machine in MB.
	Memory uint64

	// Disable KVM support.
	NoKVM bool

	// Transport type for IO. This depends on machine type and the kernel.
	TransportType TransportType

	// ConsoleSocket is the path of the Unix socket the guest console is
	// connected to. QEMU connects as client, so it must be listening before
	// the command is started.
	ConsoleSocket string

	// GuestID is the vsock context id of the guest. The guest's vsock device
	// is backed by the host kernel, so the id must be unique on the host.
	GuestID uint32

	// NICs are the network interfaces of the guest.
	NICs []NIC

	// KernelArgs are additional kernel command line parameters.
	KernelArgs []string

	// ExtraArgs are extra arguments that are passed to the QEMU command.
	// They must not interfere with the essential arguments set by the command
	// itself or an error will be returned by [CommandSpec.Arguments].
	ExtraArgs []Argument

	// Increase guest kernel logging.
	Verbose bool
}

// AddDefaultsFor adds architecture specific default values to the given spec if
// the fields are not set yet.
func (s *CommandSpec) AddDefaultsFor(arch sys.Arch) error {
	target := arch.QEMUTarget()
	if target == "" {
		return sys.ErrArchNotSupported
	}

	machine := machineTypeVirt
	if arch == sys.AMD64 {
		machine = machineTypeQ35
	}

	if s.Executable == "" {
		s.Executable = "qemu-system-" + target
	}

	if s.Machine == "" {
		s.Machine = machine
	}

	if s.TransportType == "" {
		s.TransportType = TransportTypePCI
	}

	if s.InitSystem == "" {
		s.InitSystem = "/sbin/init"
	}

	if !s.NoKVM {
		s.NoKVM = !arch.KVMAvailable()
	}

	return nil
}

// Validate checks for missing parameters and known incompatibilities.
func (s *CommandSpec) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"executable", s.Executable},
		{"kernel", s.Kernel},
		{"disk image", s.DiskImage},
		{"console socket", s.ConsoleSocket},
	}

	for _, field := range required {
		if field.value == "" {
			return &ArgumentError{field.name + " missing"}
		}
	}

	if s.Memory == 0 {
		return &ArgumentError{"memory must not be 0"}
	}

	if s.GuestID < MinGuestID {
		return &ArgumentError{
			fmt.Sprintf("guest id must be at least %d: %d", MinGuestID, s.GuestID),
		}
	}

	if !s.TransportType.isKnown() {
		return &ArgumentError{
			"unknown transport type: " + string(s.TransportType),
		}
	}

	switch s.Machine {
	case machineTypeMicroVM:
		if s.TransportType != TransportTypeMMIO {
			return &ArgumentError{"microvm requires virtio-mmio"}
		}
	case machineTypeVirt:
		if s.TransportType == TransportTypeISA {
			return &ArgumentError{"virt does not support isa"}
		}
	case machineTypeQ35, machineTypePC:
		if s.TransportType == TransportTypeMMIO {
			return &ArgumentError{
				s.Machine + " does not work with virtio-mmio",
			}
		}
	}

	return nil
}

// Arguments validates the spec and compiles the argument list for the QEMU
// command.
func (s *CommandSpec) Arguments() ([]string, error) {
	err := s.Validate()
	if err != nil {
		return nil, err
	}

	return BuildArgumentStrings(s.arguments())
}

// arguments compiles the argument list for the QEMU command.
func (s *CommandSpec) arguments() []Argument {
	args := []Argument{
		UniqueArg("machine", s.Machine),
		UniqueArg("m", strconv.FormatUint(s.Memory, 10)+"M"),
		UniqueArg("kernel", s.Kernel),
	}

	if s.CPU != "" {
		args = append(args, UniqueArg("cpu", s.CPU))
	}

	if s.SMP != 0 {
		args = append(args, UniqueArg("smp", strconv.FormatUint(s.SMP, 10)))
	}

	if !s.NoKVM {
		args = append(args, UniqueArg("enable-kvm"))
	}

	args = s.appendConsoleArgs(args)

	args = append(args,
		RepeatableArg("drive",
			"file="+s.DiskImage,
			"format=raw",
			"if=none",
			"id="+diskID,
		),
		RepeatableArg("device",
			s.TransportType.VirtioDevice("virtio-blk"),
			"drive="+diskID,
		),
		RepeatableArg("device",
			s.TransportType.VirtioDevice("vhost-vsock"),
			"guest-cid="+strconv.FormatUint(uint64(s.GuestID), 10),
		),
	)

	for idx, nic := range s.NICs {
		id := fmt.Sprintf("net%d", idx)
		args = append(args,
			RepeatableArg("netdev", nic.netdev(id)),
			RepeatableArg("device",
				s.TransportType.VirtioDevice("virtio-net"),
				"netdev="+id,
				"mac="+nic.MAC,
			),
		)
	}

	args = append(args,
		// Disable video output.
		UniqueArg("display", "none"),
		// Disable QEMU monitor.
		UniqueArg("monitor", "none"),
		// Guest reboots are handled as restart by the caller.
		UniqueArg("no-reboot"),
		// Disable all default devices.
		UniqueArg("nodefaults"),
		// Do not load any user config files.
		UniqueArg("no-user-config"),
	)

	args = append(args, s.ExtraArgs...)

	kernelCmdline := strings.Join(s.kernelCmdlineArgs(), " ")
	args = append(args, UniqueArg("append", kernelCmdline))

	return args
}

// kernelCmdlineArgs returns the kernel cmdline arguments.
func (s *CommandSpec) kernelCmdlineArgs() []string {
	cmdline := []string{
		"console=" + s.TransportType.ConsoleDeviceName(),
		"root=/dev/vda",
		"rw",
		"init=" + s.InitSystem,
		"panic=-1",
	}

	if s.Verbose {
		cmdline = append(cmdline, "debug")
	} else {
		cmdline = append(cmdline, "quiet")
	}

	return append(cmdline, s.KernelArgs...)
}

// appendConsoleArgs connects the guest console to the console socket.
func (s *CommandSpec) appendConsoleArgs(args []Argument) []Argument {
	chardev := RepeatableArg("chardev",
		"socket",
		"id="+consoleID,
		"path="+s.ConsoleSocket,
	)

	if s.TransportType == TransportTypeISA {
		return append(args, chardev, RepeatableArg("serial", "chardev:"+consoleID))
	}

	return append(args,
		chardev,
		RepeatableArg("device", s.TransportType.VirtioDevice("virtio-serial")),
		RepeatableArg("device", "virtconsole", "chardev="+consoleID),
	)
}
