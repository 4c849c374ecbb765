// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sys provides host system helpers: guest architectures, KVM
// detection and file path values for command line flags.
package sys
