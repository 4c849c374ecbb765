// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu_test

import (
	"testing"

	"github.com/loliting/VirtualSlides/internal/qemu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgumentStrings(t *testing.T) {
	tests := []struct {
		name        string
		args        []qemu.Argument
		expected    []string
		expectedErr error
	}{
		{
			name:     "empty",
			expected: []string{},
		},
		{
			name: "flag and values",
			args: []qemu.Argument{
				qemu.UniqueArg("nodefaults"),
				qemu.UniqueArg("m", "256M"),
				qemu.RepeatableArg("device", "virtconsole", "chardev=con0"),
			},
			expected: []string{
				"-nodefaults",
				"-m", "256M",
				"-device", "virtconsole,chardev=con0",
			},
		},
		{
			name: "repeatable with different values",
			args: []qemu.Argument{
				qemu.RepeatableArg("device", "a"),
				qemu.RepeatableArg("device", "b"),
			},
			expected: []string{"-device", "a", "-device", "b"},
		},
		{
			name: "repeatable with same values",
			args: []qemu.Argument{
				qemu.RepeatableArg("device", "a"),
				qemu.RepeatableArg("device", "a"),
			},
			expectedErr: qemu.ErrArgumentCollision,
		},
		{
			name: "unique twice",
			args: []qemu.Argument{
				qemu.UniqueArg("kernel", "a"),
				qemu.UniqueArg("kernel", "b"),
			},
			expectedErr: qemu.ErrArgumentCollision,
		},
		{
			name: "unique and repeatable",
			args: []qemu.Argument{
				qemu.UniqueArg("m", "256M"),
				qemu.RepeatableArg("m", "512M"),
			},
			expectedErr: qemu.ErrArgumentCollision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := qemu.BuildArgumentStrings(tt.args)
			require.ErrorIs(t, err, tt.expectedErr)

			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestParseArgument(t *testing.T) {
	tests := []struct {
		input         string
		expectedName  string
		expectedValue string
		expectedErr   error
	}{
		{
			input:        "-s",
			expectedName: "s",
		},
		{
			input:         "object=rng-random,id=rng0,filename=/dev/urandom",
			expectedName:  "object",
			expectedValue: "rng-random,id=rng0,filename=/dev/urandom",
		},
		{
			input:       "-=x",
			expectedErr: &qemu.ArgumentError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			actual, err := qemu.ParseArgument(tt.input)
			require.ErrorIs(t, err, tt.expectedErr)

			assert.Equal(t, tt.expectedName, actual.Name())
			assert.Equal(t, tt.expectedValue, actual.Value())
		})
	}
}
