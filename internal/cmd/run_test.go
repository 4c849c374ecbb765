// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loliting/VirtualSlides/internal/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPresentation = `
vms:
  - id: web
    image: debian
`

// syncBuffer is written by the logger and the QEMU stderr copy concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type runFixture struct {
	dir          string
	config       string
	presentation string
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}

func newRunFixture(t *testing.T, qemuScript string) *runFixture {
	t.Helper()

	t.Setenv("VSLIDES_ARGS", "")

	dir := t.TempDir()

	fixture := &runFixture{
		dir:          dir,
		config:       filepath.Join(dir, "vslides.yaml"),
		presentation: filepath.Join(dir, "talk.yaml"),
	}

	writeFile(t, filepath.Join(dir, "bzImage"), "kernel", 0o644)
	writeFile(t, filepath.Join(dir, "images", "debian.img"), "disk", 0o644)
	writeFile(t, filepath.Join(dir, "qemu"), "#!/bin/sh\n"+qemuScript+"\n", 0o755)
	writeFile(t, fixture.config, `
kernel: bzImage
images:
  - name: Debian
    path: images/debian.img
`, 0o644)
	writeFile(t, fixture.presentation, testPresentation, 0o644)

	return fixture
}

func (f *runFixture) args(extra ...string) []string {
	args := []string{
		"-config=" + f.config,
		"-presentation=" + f.presentation,
		"-qemu-bin=" + filepath.Join(f.dir, "qemu"),
		"-nokvm",
		"-novsock",
	}

	return append(args, extra...)
}

func TestRun_Help(t *testing.T) {
	t.Setenv("VSLIDES_ARGS", "")

	var stdErr bytes.Buffer

	exitCode := cmd.Run(t.Context(), []string{"-help"}, cmd.IO{
		Stdout: &bytes.Buffer{},
		Stderr: &stdErr,
	})

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdErr.String(), "Usage of 'vslides-vm'")
	assert.Contains(t, stdErr.String(), "-presentation")
}

func TestRun_ParseError(t *testing.T) {
	t.Setenv("VSLIDES_ARGS", "-config=/etc/vslides.yaml")

	var stdErr bytes.Buffer

	exitCode := cmd.Run(t.Context(), []string{"web"}, cmd.IO{
		Stdout: &bytes.Buffer{},
		Stderr: &stdErr,
	})

	assert.Equal(t, -1, exitCode)
	assert.Contains(t, stdErr.String(), "no presentation given")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		prepare        func(t *testing.T, f *runFixture)
		expectedOutput string
	}{
		{
			name:           "unknown vm",
			args:           []string{"db"},
			expectedOutput: "unknown vm: db",
		},
		{
			name: "missing kernel",
			args: []string{"web"},
			prepare: func(t *testing.T, f *runFixture) {
				t.Helper()
				require.NoError(t, os.Remove(filepath.Join(f.dir, "bzImage")))
			},
			expectedOutput: "kernel file",
		},
		{
			name: "missing disk image",
			args: []string{"web"},
			prepare: func(t *testing.T, f *runFixture) {
				t.Helper()
				require.NoError(t, os.Remove(filepath.Join(f.dir, "images", "debian.img")))
			},
			expectedOutput: "disk image",
		},
		{
			name: "broken presentation",
			args: []string{"web"},
			prepare: func(t *testing.T, f *runFixture) {
				t.Helper()
				writeFile(t, f.presentation, "vms: [{id: web}]", 0o644)
			},
			expectedOutput: "image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newRunFixture(t, "exit 0")

			if tt.prepare != nil {
				tt.prepare(t, fixture)
			}

			var stdErr syncBuffer

			exitCode := cmd.Run(t.Context(), fixture.args(tt.args...), cmd.IO{
				Stdout: &bytes.Buffer{},
				Stderr: &stdErr,
			})

			assert.Equal(t, -1, exitCode)
			assert.Contains(t, stdErr.String(), tt.expectedOutput)
		})
	}
}

func TestRun_RetriesExhausted(t *testing.T) {
	fixture := newRunFixture(t, "echo booting >&2; exit 3")

	var stdErr syncBuffer

	exitCode := cmd.Run(t.Context(), fixture.args("web"), cmd.IO{
		Stdout: &bytes.Buffer{},
		Stderr: &stdErr,
	})

	assert.Equal(t, 3, exitCode)
	assert.Contains(t, stdErr.String(), "crash retries exhausted")
	assert.Contains(t, stdErr.String(), "booting")
}
