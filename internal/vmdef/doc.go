// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package vmdef loads VM definitions from YAML files.
//
// The host configuration lists the available disk images and the guest
// resources. A presentation file defines the networks and the VMs used by a
// presentation. Relative paths in either file are resolved relative to the
// directory of the file.
package vmdef
