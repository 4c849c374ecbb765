// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"flag"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/loliting/VirtualSlides/internal/qemu"
	"github.com/loliting/VirtualSlides/internal/supervisor"
	"github.com/loliting/VirtualSlides/internal/sys"
)

const (
	name = "vslides-vm"

	memMin = 128
	memMax = 16384

	smpMin = 1
	smpMax = 16

	usageMessage = `Usage of 'vslides-vm':
    vslides-vm [flags...] -config=host.yaml -presentation=slides.yaml vm-id

Runs a single VM of a presentation. The guest console is attached to stdin
and stdout. The VM is restarted on guest request and retried after early
crashes.

Example:
	vslides-vm -config=vslides.yaml -presentation=talk.yaml -debug web1

All vslides-vm flags can also be provided via environment variable VSLIDES_ARGS:
	VSLIDES_ARGS="-config=/etc/vslides.yaml -nokvm" vslides-vm ...

All vslides-vm flags can also be provided via file ./.vslides-args, with one
argument per line.
`
)

// argumentList collects additional QEMU arguments.
type argumentList []qemu.Argument

func (l *argumentList) String() string {
	args := make([]string, 0, len(*l))
	for _, arg := range *l {
		args = append(args, arg.String())
	}

	return strings.Join(args, " ")
}

func (l *argumentList) Set(s string) error {
	arg, err := qemu.ParseArgument(s)
	if err != nil {
		return err //nolint:wrapcheck
	}

	*l = append(*l, arg)

	return nil
}

type flags struct {
	Arch          sys.Arch
	QemuBin       string
	Kernel        sys.FilePath
	Machine       string
	CPU           string
	NoKVM         bool
	TransportType qemu.TransportType
	Memory        uint64
	SMP           uint64
	Verbose       bool
	QemuArgs      argumentList
	NoVsock       bool

	ConfigPath       sys.FilePath
	PresentationPath sys.FilePath
	VM               string

	MetricsAddr string
	Debug       bool
	Version     bool

	flagSet *flag.FlagSet
}

func parseArgs(args []string, output io.Writer) (*flags, error) {
	f := &flags{}
	f.initFlagset(output)

	err := f.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (f *flags) ParseArgs(args []string) error {
	// Parses arguments up to the first one that is not prefixed with a "-" or
	// is "--".
	err := f.flagSet.Parse(args)
	if err != nil {
		return &ParseArgsError{msg: "flag parse", err: err}
	}

	// With version flag, just print the version and exit. Using [ErrHelp]
	// the main binary is supposed to return with a non error exit code.
	if f.Version {
		return f.printVersionInformation()
	}

	if f.ConfigPath == "" {
		return f.fail("no host config given (use -config)", nil)
	}

	if f.PresentationPath == "" {
		return f.fail("no presentation given (use -presentation)", nil)
	}

	positionalArgs := f.flagSet.Args()

	switch len(positionalArgs) {
	case 0:
		return f.fail("no vm given", nil)
	case 1:
		f.VM = positionalArgs[0]
	default:
		return f.fail("only one vm allowed", nil)
	}

	return nil
}

func (f *flags) initFlagset(output io.Writer) {
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = f.usage

	flagSet.Var(
		&f.Arch,
		"arch",
		"guest architecture: amd64, arm64, riscv64 (default is the host arch)",
	)

	flagSet.StringVar(
		&f.QemuBin,
		"qemu-bin",
		f.QemuBin,
		"QEMU binary to use (default depends on host arch: qemu-system-*)",
	)

	flagSet.Var(
		&f.Kernel,
		"kernel",
		"path to kernel to use (overrides the host config)",
	)

	flagSet.StringVar(
		&f.Machine,
		"machine",
		f.Machine,
		"QEMU machine type to use (default depends on host arch)",
	)

	flagSet.StringVar(
		&f.CPU,
		"cpu",
		f.CPU,
		"QEMU CPU type to use",
	)

	flagSet.BoolVar(
		&f.NoKVM,
		"nokvm",
		f.NoKVM,
		"disable hardware support (default is enabled if present)",
	)

	flagSet.Var(
		&f.TransportType,
		"transport",
		"io transport type: isa, pci, mmio (default depends on host arch)",
	)

	flagSet.BoolVar(
		&f.Verbose,
		"verbose",
		f.Verbose,
		"enable verbose guest kernel output",
	)

	flagSet.Var(
		&LimitedUintValue{
			Value: &f.Memory,
			Lower: memMin,
			Upper: memMax,
		},
		"memory",
		"memory (in MB) for the QEMU VM (overrides the host config)",
	)

	flagSet.Var(
		&LimitedUintValue{
			Value: &f.SMP,
			Lower: smpMin,
			Upper: smpMax,
		},
		"smp",
		"number of CPUs for the QEMU VM (overrides the host config)",
	)

	flagSet.Var(
		&f.QemuArgs,
		"qemu-arg",
		"additional QEMU argument like \"-device=usb-kbd\". "+
			"Flag may be used more than once.",
	)

	flagSet.BoolVar(
		&f.NoVsock,
		"novsock",
		f.NoVsock,
		"do not listen on the host vsock port of the guest, the guest bridge "+
			"is then only reachable through the tunnel socket",
	)

	flagSet.Var(
		&f.ConfigPath,
		"config",
		"path to the host config file",
	)

	flagSet.Var(
		&f.PresentationPath,
		"presentation",
		"path to the presentation file defining the vm",
	)

	flagSet.StringVar(
		&f.MetricsAddr,
		"metrics-addr",
		f.MetricsAddr,
		"serve prometheus metrics on this address, like \"localhost:9100\"",
	)

	flagSet.BoolVar(
		&f.Debug,
		"debug",
		f.Debug,
		"enable debug output",
	)

	flagSet.BoolVar(
		&f.Version,
		"version",
		f.Version,
		"show version and exit",
	)

	f.flagSet = flagSet
}

// fail fails like flag does. It prints the error first and then usage.
func (f *flags) fail(msg string, err error) error {
	err = &ParseArgsError{msg: msg, err: err}
	fmt.Fprintln(f.flagSet.Output(), err.Error())

	f.flagSet.Usage()

	return err
}

func (f *flags) printVersionInformation() error {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return ErrReadBuildInfo
	}

	fmt.Fprintf(f.flagSet.Output(), "Version: %s\n", buildInfo.Main.Version)

	return ErrHelp
}

func (f *flags) usage() {
	fmt.Fprint(f.flagSet.Output(), usageMessage)
	fmt.Fprintln(f.flagSet.Output(), "\nFlags:")
	f.flagSet.PrintDefaults()
}

// apply overrides the host config with the values given on the command line.
func (f *flags) apply(cfg *supervisor.Config) {
	if f.Arch != "" {
		cfg.Arch = f.Arch
	}

	if f.QemuBin != "" {
		cfg.Executable = f.QemuBin
	}

	if f.Kernel != "" {
		cfg.Kernel = string(f.Kernel)
	}

	if f.Machine != "" {
		cfg.Machine = f.Machine
	}

	if f.CPU != "" {
		cfg.CPU = f.CPU
	}

	if f.TransportType != "" {
		cfg.TransportType = f.TransportType
	}

	if f.Memory != 0 {
		cfg.Memory = f.Memory
	}

	if f.SMP != 0 {
		cfg.SMP = f.SMP
	}

	cfg.NoKVM = cfg.NoKVM || f.NoKVM
	cfg.Verbose = cfg.Verbose || f.Verbose
	cfg.ExtraArgs = append(cfg.ExtraArgs, f.QemuArgs...)
}
