// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"fmt"
	"slices"
	"strings"
)

// Argument is a single QEMU command line option with an optional value.
//
// Options like "-kernel" may be given once per command line only. Those are
// unique. Options like "-device" may be repeated with different values.
type Argument struct {
	name       string
	value      string
	repeatable bool
}

// UniqueArg returns an [Argument] that may be present only once per command
// line. Multiple values are joined with comma.
func UniqueArg(name string, value ...string) Argument {
	return Argument{
		name:  name,
		value: strings.Join(value, ","),
	}
}

// RepeatableArg returns an [Argument] that may be present multiple times per
// command line, as long as the values differ. Multiple values are joined with
// comma.
func RepeatableArg(name string, value ...string) Argument {
	return Argument{
		name:       name,
		value:      strings.Join(value, ","),
		repeatable: true,
	}
}

// ParseArgument parses an option in the form "name=value" or "name". A
// leading dash is stripped. Parsed arguments are repeatable, so they collide
// only with identical arguments or with unique arguments of the same name.
func ParseArgument(s string) (Argument, error) {
	name, value, _ := strings.Cut(strings.TrimLeft(s, "-"), "=")
	if name == "" {
		return Argument{}, &ArgumentError{"empty qemu argument: " + s}
	}

	return RepeatableArg(name, value), nil
}

// String implements [fmt.Stringer].
func (a Argument) String() string {
	if a.value == "" {
		return "-" + a.name
	}

	return "-" + a.name + " " + a.value
}

// Name returns the option name without leading dash.
func (a Argument) Name() string {
	return a.name
}

// Value returns the option value. It is empty for flags.
func (a Argument) Value() string {
	return a.value
}

// Collides reports whether both arguments may not be present in the same
// command line. Arguments collide if their names are equal and at least one
// of them is unique or both have the same value.
func (a Argument) Collides(other Argument) bool {
	if a.name != other.name {
		return false
	}

	if a.repeatable && other.repeatable {
		return a.value == other.value
	}

	return true
}

// BuildArgumentStrings compiles the [Argument]s into a list of strings as
// passed to [exec.Command].
//
// It returns [ErrArgumentCollision] if any two arguments collide.
func BuildArgumentStrings(args []Argument) ([]string, error) {
	argStrings := make([]string, 0, 2*len(args))

	for idx, arg := range args {
		if i := slices.IndexFunc(args[:idx], arg.Collides); i != -1 {
			return nil, fmt.Errorf(
				"%w: %s, %s",
				ErrArgumentCollision,
				args[i].String(),
				arg.String(),
			)
		}

		argStrings = append(argStrings, "-"+arg.name)

		if arg.value != "" {
			argStrings = append(argStrings, arg.value)
		}
	}

	return argStrings, nil
}
