// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tunnel

import (
	"encoding/binary"
	"fmt"
)

// KeySize is the encoded size of a [Key].
const KeySize = 24

// Well-known context IDs.
const (
	Hypervisor uint64 = 0
	Local      uint64 = 1
	Host       uint64 = 2

	// AnyID matches any host ID in a [Filter].
	AnyID uint64 = 0xFFFFFFFF
)

// Key identifies a tunneled connection. It is sent once by the client before
// any application data.
//
// The encoding is the packed record of both IDs followed by both ports in
// native byte order, as both ends always run on the same machine.
type Key struct {
	HostID    uint64
	GuestID   uint64
	HostPort  uint32
	GuestPort uint32
}

// MarshalBinary implements [encoding.BinaryMarshaler].
func (k Key) MarshalBinary() ([]byte, error) {
	return k.AppendBinary(make([]byte, 0, KeySize))
}

// AppendBinary implements [encoding.BinaryAppender].
func (k Key) AppendBinary(b []byte) ([]byte, error) {
	b = binary.NativeEndian.AppendUint64(b, k.HostID)
	b = binary.NativeEndian.AppendUint64(b, k.GuestID)
	b = binary.NativeEndian.AppendUint32(b, k.HostPort)
	b = binary.NativeEndian.AppendUint32(b, k.GuestPort)

	return b, nil
}

// UnmarshalBinary implements [encoding.BinaryUnmarshaler]. Only the first
// [KeySize] bytes are used.
func (k *Key) UnmarshalBinary(data []byte) error {
	if len(data) < KeySize {
		return fmt.Errorf("%w: %d bytes", ErrShortKey, len(data))
	}

	k.HostID = binary.NativeEndian.Uint64(data[0:8])
	k.GuestID = binary.NativeEndian.Uint64(data[8:16])
	k.HostPort = binary.NativeEndian.Uint32(data[16:20])
	k.GuestPort = binary.NativeEndian.Uint32(data[20:24])

	return nil
}

// String implements [fmt.Stringer].
func (k Key) String() string {
	return fmt.Sprintf("%d:%d->%d:%d", k.GuestID, k.GuestPort, k.HostID, k.HostPort)
}

// Reply is the single byte handshake answer of the listener.
type Reply byte

const (
	Reject Reply = 0
	Accept Reply = 1
)

// Filter selects the connections a [Listener] accepts.
type Filter struct {
	ID   uint64
	Port uint32
}

// Match reports whether a connection with the given key is accepted.
func (f Filter) Match(key Key) bool {
	return (f.ID == AnyID || f.ID == key.HostID) && f.Port == key.HostPort
}
