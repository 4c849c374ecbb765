// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loliting/VirtualSlides/internal/metrics"
)

const metricsShutdownTimeout = 2 * time.Second

// serveMetrics serves the metrics on the given address until the returned
// function is called.
func serveMetrics(addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	slog.Debug("Serving metrics", slog.String("addr", listener.Addr().String()))

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		_ = server.Shutdown(ctx)

		<-done
	}

	return stop, nil
}
