// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/loliting/VirtualSlides/internal/network"
	"github.com/loliting/VirtualSlides/internal/supervisor"
	"github.com/loliting/VirtualSlides/internal/vmdef"
)

const localConfigFile = ".vslides-args"

// IO provides input and output details for the command.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func newFlags(args []string, cfg IO) (*flags, error) {
	args, err := MergedArgs(args, os.DirFS("."), localConfigFile)
	if err != nil {
		return nil, err
	}

	flags, err := parseArgs(args, cfg.Stderr)
	if err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}

	return flags, nil
}

func newDeps(
	flags *flags,
	hostConfig *vmdef.Config,
	pres *vmdef.Presentation,
	vm vmdef.VM,
	cfg IO,
) (supervisor.Deps, error) {
	vmConfig, err := hostConfig.SupervisorConfig(vm)
	if err != nil {
		return supervisor.Deps{}, fmt.Errorf("host config: %w", err)
	}

	flags.apply(&vmConfig)

	err = validate(vmConfig)
	if err != nil {
		return supervisor.Deps{}, fmt.Errorf("validate: %w", err)
	}

	deps := supervisor.Deps{
		Config:   vmConfig,
		Launcher: supervisor.QEMULauncher{Stderr: cfg.Stderr},
		IDs:      guestIDs(pres, vm),
		Vsock:    !flags.NoVsock,
	}

	if vm.Network == "" {
		return deps, nil
	}

	err = network.CheckMulticastRoute()
	if err != nil {
		slog.Warn("VM network may not work", slog.Any("error", err))
	}

	// All networks are added in presentation order, so each one gets the
	// same multicast port in every process of the presentation.
	networks := network.NewManager()

	for _, def := range pres.Networks {
		_, err := networks.Add(def.ID, def.WAN)
		if err != nil {
			return supervisor.Deps{}, fmt.Errorf("network: %w", err)
		}
	}

	deps.Network, err = networks.Get(vm.Network)
	if err != nil {
		return supervisor.Deps{}, fmt.Errorf("network: %w", err)
	}

	return deps, nil
}

// guestIDs returns the allocator for the guest id of the given VM. Ids follow
// the presentation order, so the VMs of a presentation never share a vsock
// context id, even though each runs in its own process.
func guestIDs(pres *vmdef.Presentation, vm vmdef.VM) *supervisor.IDAllocator {
	idx := slices.IndexFunc(pres.VMs, func(other vmdef.VM) bool {
		return other.ID == vm.ID
	})

	return supervisor.NewIDAllocator(supervisor.BaseGuestID + uint32(max(idx, 0))) //nolint:gosec
}

func newSupervisor(flags *flags, cfg IO) (*supervisor.Supervisor, error) {
	hostConfig, err := vmdef.LoadConfig(string(flags.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("host config: %w", err)
	}

	pres, err := vmdef.LoadPresentation(string(flags.PresentationPath))
	if err != nil {
		return nil, fmt.Errorf("presentation: %w", err)
	}

	vm, exists := pres.VM(flags.VM)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVM, flags.VM)
	}

	deps, err := newDeps(flags, hostConfig, pres, vm, cfg)
	if err != nil {
		return nil, err
	}

	def, err := pres.Definition(vm)
	if err != nil {
		return nil, fmt.Errorf("definition: %w", err)
	}

	sup, err := supervisor.New(def, deps)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	return sup, nil
}

func run(ctx context.Context, flags *flags, cfg IO) error {
	if flags.MetricsAddr != "" {
		stop, err := serveMetrics(flags.MetricsAddr)
		if err != nil {
			return err
		}

		defer stop()
	}

	sup, err := newSupervisor(flags, cfg)
	if err != nil {
		return err
	}

	defer func() {
		err := sup.Close()
		if err != nil {
			slog.Error("Failed to close supervisor", slog.Any("error", err))
		}
	}()

	slog.Debug("Supervisor created",
		slog.String("vm", sup.Name()),
		slog.Uint64("guest_id", uint64(sup.GuestID())),
		slog.String("tunnel", sup.TunnelPath()))

	err = sup.Start(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	return attachConsole(ctx, sup, cfg)
}

func handleParseArgsError(err error) int {
	// [ErrHelp] is returned when help is requested. So exit without error
	// in this case.
	if errors.Is(err, ErrHelp) {
		return 0
	}

	// ParseArgs already prints errors, so we just exit without an error.
	if !errors.Is(err, &ParseArgsError{}) {
		slog.Error(err.Error())
	}

	return -1
}

func handleRunError(err error) int {
	exitCode := -1

	var lifecycleErr *supervisor.LifecycleError
	if errors.As(err, &lifecycleErr) {
		if lifecycleErr.ExitCode > 0 {
			exitCode = lifecycleErr.ExitCode
		}
	}

	if errors.Is(err, supervisor.ErrRetriesExhausted) {
		slog.Warn("guest never connected, maybe wrong transport type or " +
			"guest agent missing")
	}

	slog.Error(err.Error())

	return exitCode
}

// Run is the main entry point for the CLI command.
func Run(ctx context.Context, args []string, cfg IO) int {
	setupLogging(cfg.Stderr, false)

	flags, err := newFlags(args, cfg)
	if err != nil {
		return handleParseArgsError(err)
	}

	setupLogging(cfg.Stderr, flags.Debug)

	err = run(ctx, flags, cfg)
	if err != nil {
		return handleRunError(err)
	}

	return 0
}
