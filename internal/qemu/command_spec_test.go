// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu_test

import (
	"testing"

	"github.com/loliting/VirtualSlides/internal/qemu"
	"github.com/loliting/VirtualSlides/internal/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() qemu.CommandSpec {
	return qemu.CommandSpec{
		Executable:    "qemu-system-x86_64",
		Machine:       "q35",
		Kernel:        "/boot/vmlinuz",
		DiskImage:     "/images/demo.img",
		InitSystem:    "/bin/sh",
		Memory:        256,
		SMP:           2,
		NoKVM:         true,
		TransportType: qemu.TransportTypePCI,
		ConsoleSocket: "/tmp/con.sock",
		GuestID:       3,
	}
}

func TestCommandSpec_Arguments(t *testing.T) {
	spec := validSpec()
	spec.NICs = []qemu.NIC{
		{MAC: "52:54:00:12:00:01", McastAddr: "224.0.0.69:42069"},
		{MAC: "52:54:00:12:00:02"},
	}
	spec.KernelArgs = []string{"net.ifnames=0"}

	actual, err := spec.Arguments()
	require.NoError(t, err)

	expected := []string{
		"-machine", "q35",
		"-m", "256M",
		"-kernel", "/boot/vmlinuz",
		"-smp", "2",
		"-chardev", "socket,id=con0,path=/tmp/con.sock",
		"-device", "virtio-serial-pci",
		"-device", "virtconsole,chardev=con0",
		"-drive", "file=/images/demo.img,format=raw,if=none,id=disk0",
		"-device", "virtio-blk-pci,drive=disk0",
		"-device", "vhost-vsock-pci,guest-cid=3",
		"-netdev", "socket,id=net0,mcast=224.0.0.69:42069",
		"-device", "virtio-net-pci,netdev=net0,mac=52:54:00:12:00:01",
		"-netdev", "user,id=net1",
		"-device", "virtio-net-pci,netdev=net1,mac=52:54:00:12:00:02",
		"-display", "none",
		"-monitor", "none",
		"-no-reboot",
		"-nodefaults",
		"-no-user-config",
		"-append", "console=hvc0 root=/dev/vda rw init=/bin/sh panic=-1 quiet net.ifnames=0",
	}

	assert.Equal(t, expected, actual)
}

func TestCommandSpec_ArgumentsISA(t *testing.T) {
	spec := validSpec()
	spec.TransportType = qemu.TransportTypeISA
	spec.NoKVM = false
	spec.Verbose = true

	actual, err := spec.Arguments()
	require.NoError(t, err)

	assert.Contains(t, actual, "-enable-kvm")
	assert.Contains(t, actual, "chardev:con0")
	assert.NotContains(t, actual, "virtconsole,chardev=con0")
	assert.Equal(t,
		"console=ttyS0 root=/dev/vda rw init=/bin/sh panic=-1 debug",
		actual[len(actual)-1],
	)
}

func TestCommandSpec_ArgumentsExtraArgs(t *testing.T) {
	spec := validSpec()
	spec.ExtraArgs = []qemu.Argument{qemu.RepeatableArg("s")}

	actual, err := spec.Arguments()
	require.NoError(t, err)
	assert.Contains(t, actual, "-s")

	spec.ExtraArgs = []qemu.Argument{qemu.RepeatableArg("kernel", "/other")}

	_, err = spec.Arguments()
	require.ErrorIs(t, err, qemu.ErrArgumentCollision)
}

func TestCommandSpec_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*qemu.CommandSpec)
		valid  bool
	}{
		{
			name:   "valid",
			modify: func(*qemu.CommandSpec) {},
			valid:  true,
		},
		{
			name:   "missing kernel",
			modify: func(s *qemu.CommandSpec) { s.Kernel = "" },
		},
		{
			name:   "missing disk image",
			modify: func(s *qemu.CommandSpec) { s.DiskImage = "" },
		},
		{
			name:   "missing console socket",
			modify: func(s *qemu.CommandSpec) { s.ConsoleSocket = "" },
		},
		{
			name:   "no memory",
			modify: func(s *qemu.CommandSpec) { s.Memory = 0 },
		},
		{
			name:   "reserved guest id",
			modify: func(s *qemu.CommandSpec) { s.GuestID = 2 },
		},
		{
			name:   "unknown transport",
			modify: func(s *qemu.CommandSpec) { s.TransportType = "usb" },
		},
		{
			name: "q35 with mmio",
			modify: func(s *qemu.CommandSpec) {
				s.TransportType = qemu.TransportTypeMMIO
			},
		},
		{
			name: "virt with isa",
			modify: func(s *qemu.CommandSpec) {
				s.Machine = "virt"
				s.TransportType = qemu.TransportTypeISA
			},
		},
		{
			name: "microvm with pci",
			modify: func(s *qemu.CommandSpec) {
				s.Machine = "microvm"
			},
		},
		{
			name: "microvm with mmio",
			modify: func(s *qemu.CommandSpec) {
				s.Machine = "microvm"
				s.TransportType = qemu.TransportTypeMMIO
			},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.modify(&spec)

			err := spec.Validate()
			if tt.valid {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, &qemu.ArgumentError{})
		})
	}
}

func TestCommandSpec_AddDefaultsFor(t *testing.T) {
	tests := []struct {
		arch               sys.Arch
		expectedExecutable string
		expectedMachine    string
		expectedErr        error
	}{
		{
			arch:               sys.AMD64,
			expectedExecutable: "qemu-system-x86_64",
			expectedMachine:    "q35",
		},
		{
			arch:               sys.ARM64,
			expectedExecutable: "qemu-system-aarch64",
			expectedMachine:    "virt",
		},
		{
			arch:               sys.RISCV64,
			expectedExecutable: "qemu-system-riscv64",
			expectedMachine:    "virt",
		},
		{
			arch:        sys.Arch("mips"),
			expectedErr: sys.ErrArchNotSupported,
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.arch), func(t *testing.T) {
			spec := qemu.CommandSpec{}

			err := spec.AddDefaultsFor(tt.arch)
			require.ErrorIs(t, err, tt.expectedErr)

			if tt.expectedErr != nil {
				return
			}

			assert.Equal(t, tt.expectedExecutable, spec.Executable)
			assert.Equal(t, tt.expectedMachine, spec.Machine)
			assert.Equal(t, qemu.TransportTypePCI, spec.TransportType)
			assert.Equal(t, "/sbin/init", spec.InitSystem)
		})
	}
}

func TestCommandSpec_AddDefaultsForKeepsValues(t *testing.T) {
	spec := qemu.CommandSpec{
		Executable:    "/opt/qemu/bin/qemu-system-x86_64",
		Machine:       "pc",
		TransportType: qemu.TransportTypeISA,
		InitSystem:    "/bin/sh",
	}

	require.NoError(t, spec.AddDefaultsFor(sys.AMD64))

	assert.Equal(t, "/opt/qemu/bin/qemu-system-x86_64", spec.Executable)
	assert.Equal(t, "pc", spec.Machine)
	assert.Equal(t, qemu.TransportTypeISA, spec.TransportType)
	assert.Equal(t, "/bin/sh", spec.InitSystem)
}
