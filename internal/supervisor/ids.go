// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package supervisor

import (
	"sync/atomic"

	"github.com/loliting/VirtualSlides/internal/qemu"
)

// BaseGuestID is the first guest id handed out by an [IDAllocator].
const BaseGuestID = qemu.MinGuestID

// defaultIDs is the process wide allocator used if none is given.
var defaultIDs IDAllocator

// IDAllocator hands out unique guest ids. Ids are never reused. The zero value
// starts at [BaseGuestID]. It is safe for concurrent use.
type IDAllocator struct {
	next atomic.Uint32
}

// NewIDAllocator returns an [IDAllocator] starting at the given id. Ids below
// [BaseGuestID] are raised to it.
func NewIDAllocator(first uint32) *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(max(first, BaseGuestID) - BaseGuestID)

	return a
}

// Next returns a new guest id.
func (a *IDAllocator) Next() uint32 {
	return a.next.Add(1) - 1 + BaseGuestID
}
