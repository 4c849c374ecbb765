// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package network provides the virtual networks VMs are attached to.
//
// VMs of the same network share a multicast group socket, so they can reach
// each other without any host side bridge setup. Networks with WAN access
// additionally get a user mode uplink.
package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// McastGroup is the multicast group all virtual networks use. Networks are
// separated by port.
const McastGroup = "224.0.0.69"

// BaseMcastPort is the port assigned to the first network by a [Manager].
const BaseMcastPort uint16 = 42069

// macOUI is the prefix of all generated MAC addresses.
var macOUI = [3]byte{0x52, 0x54, 0x00}

var (
	ErrUnknownNetwork   = errors.New("unknown network")
	ErrDuplicateNetwork = errors.New("network already exists")
	ErrNoMulticastRoute = errors.New("no route to multicast group")
)

// Network is a virtual network segment.
type Network struct {
	id        string
	mcastPort uint16
	wan       bool
}

// New creates a new [Network].
func New(id string, mcastPort uint16, wan bool) *Network {
	return &Network{
		id:        id,
		mcastPort: mcastPort,
		wan:       wan,
	}
}

// ID returns the network ID.
func (n *Network) ID() string {
	return n.id
}

// McastPort returns the multicast port of the network.
func (n *Network) McastPort() uint16 {
	return n.mcastPort
}

// McastAddr returns the multicast group address of the network.
func (n *Network) McastAddr() string {
	return net.JoinHostPort(McastGroup, strconv.FormatUint(uint64(n.mcastPort), 10))
}

// HasWAN reports whether VMs of the network get an uplink.
func (n *Network) HasWAN() bool {
	return n.wan
}

// MAC returns the MAC address of the interface with the given index of the
// given VM. It is derived from the network, VM and interface, so every
// process of a presentation computes the same address for a VM interface
// without coordination.
func (n *Network) MAC(vm string, nic int) net.HardwareAddr {
	digest := xxhash.New()
	_, _ = digest.WriteString(n.id)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(vm)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(strconv.Itoa(nic))

	sum := digest.Sum64()

	return net.HardwareAddr{
		macOUI[0], macOUI[1], macOUI[2],
		byte(sum >> 16),
		byte(sum >> 8),
		byte(sum),
	}
}

// Manager holds all networks of a presentation.
type Manager struct {
	mu       sync.Mutex
	networks map[string]*Network
	nextPort uint16
}

// NewManager creates an empty [Manager].
func NewManager() *Manager {
	return &Manager{
		networks: make(map[string]*Network),
		nextPort: BaseMcastPort,
	}
}

// Add creates a network with the next free multicast port.
func (m *Manager) Add(id string, wan bool) (*Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.networks[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNetwork, id)
	}

	network := New(id, m.nextPort, wan)
	m.networks[id] = network
	m.nextPort++

	return network, nil
}

// Get returns the network with the given ID.
func (m *Manager) Get(id string) (*Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	network, exists := m.networks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
	}

	return network, nil
}
