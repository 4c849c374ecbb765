// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bridge implements the host side of the guest bridge protocol.
//
// Guests send JSON requests terminated by [RecordSeparator] over a tunneled
// connection. Every request with a type is answered with exactly one JSON
// response in the same framing. The host never sends unsolicited messages.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/loliting/VirtualSlides/internal/sock"
)

const readChunkSize = 32 * 1024

// Serve answers requests from the stream until it is closed or the context
// is done. It returns the stream error for non-orderly closes and the context
// error if the context ended first.
func Serve(ctx context.Context, stream sock.Stream, machine Machine) error {
	var frames FrameBuffer

	buf := make([]byte, readChunkSize)
	closed := false

	for {
		for {
			n, err := stream.Read(buf)
			_, _ = frames.Write(buf[:n])

			if n == 0 || err != nil {
				break
			}
		}

		for {
			record, ok := frames.Next()
			if !ok {
				break
			}

			err := respond(stream, machine, record)
			if err != nil && !closed {
				slog.Debug("Guest bridge write failed", slog.Any("error", err))
			}
		}

		if closed {
			return stream.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stream.Done():
			// Process what was received before the close.
			closed = true
		case <-stream.Readable():
		}
	}
}

func respond(w io.Writer, machine Machine, record []byte) error {
	resp, ok := Handle(machine, record)
	if !ok {
		return nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		payload, _ = json.Marshal(Failure(err.Error()))
	}

	_, err = w.Write(AppendFrame(nil, payload))
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	return nil
}
