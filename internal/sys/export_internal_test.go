// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import "testing"

func SetKVMDevice(t *testing.T, path string) {
	t.Helper()

	old := kvmDevice
	kvmDevice = path

	t.Cleanup(func() { kvmDevice = old })
}
