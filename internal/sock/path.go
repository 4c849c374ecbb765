// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sock

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ResolvePath returns the file system path a listener binds to. Plain names
// without any path separator are placed in the temporary directory.
func ResolvePath(name string) string {
	if strings.ContainsRune(name, filepath.Separator) {
		return name
	}

	return filepath.Join(os.TempDir(), name)
}

// TempPath returns a process-unique socket path in the temporary directory.
func TempPath(prefix string) string {
	return ResolvePath(prefix + "-" + uuid.NewString() + ".sock")
}
