// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package network

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
)

// CheckMulticastRoute verifies the host can route packets to [McastGroup].
// Without such a route QEMU fails to set up multicast network devices.
func CheckMulticastRoute() error {
	routes, err := netlink.RouteGet(net.ParseIP(McastGroup))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoMulticastRoute, err)
	}

	if len(routes) == 0 {
		return ErrNoMulticastRoute
	}

	link, err := netlink.LinkByIndex(routes[0].LinkIndex)
	if err == nil {
		slog.Debug("Multicast route found",
			slog.String("group", McastGroup),
			slog.String("link", link.Attrs().Name))
	}

	return nil
}
