// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"fmt"
	"os"
	"path/filepath"
)

// FilePath is an absolute file path. It can be used as [flag.Value].
type FilePath string

func (f FilePath) String() string {
	return string(f)
}

// Set implements [flag.Value]. Relative paths are made absolute.
func (f *FilePath) Set(s string) error {
	return f.UnmarshalText([]byte(s))
}

// MarshalText implements [encoding.TextMarshaler].
func (f FilePath) MarshalText() ([]byte, error) {
	return []byte(f), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler]. Relative paths are
// made absolute.
func (f *FilePath) UnmarshalText(text []byte) error {
	var err error
	*f, err = AbsoluteFilePath(string(text))

	return err
}

// Check returns an error if the path does not point to a regular file.
func (f FilePath) Check() error {
	stat, err := os.Stat(string(f))
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	if !stat.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", f, ErrNotRegularFile)
	}

	return nil
}

// AbsoluteFilePath returns the absolute path as resolved by [filepath.Abs].
//
// It returns [ErrEmptyFilePath] if the given path is empty.
func AbsoluteFilePath(path string) (FilePath, error) {
	if path == "" {
		return "", ErrEmptyFilePath
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("ensure absolute path: %w", err)
	}

	return FilePath(path), nil
}
