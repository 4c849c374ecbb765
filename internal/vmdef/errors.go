// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package vmdef

import "errors"

var (
	// ErrMissingField is returned if a required field is empty.
	ErrMissingField = errors.New("missing required field")

	// ErrDuplicate is returned if a name is used more than once.
	ErrDuplicate = errors.New("duplicate name")

	// ErrUnknownImage is returned if a VM references an image that is not
	// configured.
	ErrUnknownImage = errors.New("unknown image")

	// ErrUnknownNetwork is returned if a VM references a network that is not
	// defined.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrInvalidPerm is returned for unparsable file permissions.
	ErrInvalidPerm = errors.New("invalid file permissions")
)
