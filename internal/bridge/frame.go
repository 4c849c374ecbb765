// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import "bytes"

// RecordSeparator terminates each JSON record on the wire.
const RecordSeparator byte = 0x1E

// AppendFrame appends the payload and the record separator to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, payload...)
	return append(dst, RecordSeparator)
}

// FrameBuffer reassembles records from arbitrarily chunked input.
type FrameBuffer struct {
	buf []byte
}

// Write implements [io.Writer]. It never fails.
func (f *FrameBuffer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Next returns the next complete record without its separator. It returns
// false if no complete record is buffered.
func (f *FrameBuffer) Next() ([]byte, bool) {
	idx := bytes.IndexByte(f.buf, RecordSeparator)
	if idx == -1 {
		return nil, false
	}

	record := bytes.Clone(f.buf[:idx])
	f.buf = f.buf[idx+1:]

	if len(f.buf) == 0 {
		f.buf = nil
	}

	return record, true
}

// Buffered returns the number of bytes of the incomplete trailing record.
func (f *FrameBuffer) Buffered() int {
	return len(f.buf)
}
