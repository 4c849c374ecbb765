// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package console

import "fmt"

// Size is a terminal size in character cells.
type Size struct {
	Rows int
	Cols int
}

// DefaultSize is reported if no viewer is attached.
var DefaultSize = Size{Rows: 24, Cols: 80}

// String implements [fmt.Stringer].
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Cols, s.Rows)
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Rows > 0 && s.Cols > 0
}

// minSize returns the smallest size per dimension.
func minSize(sizes []Size) Size {
	if len(sizes) == 0 {
		return DefaultSize
	}

	result := sizes[0]
	for _, size := range sizes[1:] {
		result.Rows = min(result.Rows, size.Rows)
		result.Cols = min(result.Cols, size.Cols)
	}

	return result
}
