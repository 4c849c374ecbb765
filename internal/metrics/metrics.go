// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics provides the Prometheus metrics of the VM host layer.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handshake results.
const (
	HandshakeAccepted = "accepted"
	HandshakeRejected = "rejected"
	HandshakeDropped  = "dropped"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all metrics.
type Registry struct {
	TunnelHandshakes *prometheus.CounterVec
	BridgeRequests   *prometheus.CounterVec
	VMStarts         *prometheus.CounterVec
	VMFatal          *prometheus.CounterVec
	VMsRunning       prometheus.Gauge
	ConsoleViewers   *prometheus.GaugeVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})

	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.TunnelHandshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vslides_tunnel_handshakes_total",
		Help: "Tunnel connection handshakes by result",
	}, []string{"result"})

	r.BridgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vslides_bridge_requests_total",
		Help: "Guest bridge requests by type and response status",
	}, []string{"type", "status"})

	r.VMStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vslides_vm_starts_total",
		Help: "Virtual machine process launches by reason",
	}, []string{"vm", "reason"})

	r.VMFatal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vslides_vm_fatal_total",
		Help: "Virtual machines that gave up after a fatal error",
	}, []string{"vm"})

	r.VMsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vslides_vms_running",
		Help: "Currently running virtual machine processes",
	})

	r.ConsoleViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vslides_console_viewers",
		Help: "Attached console viewers per virtual machine",
	}, []string{"vm"})

	return r
}

// RecordHandshake counts a tunnel handshake result.
func (r *Registry) RecordHandshake(result string) {
	r.TunnelHandshakes.WithLabelValues(result).Inc()
}

// RecordBridgeRequest counts a served guest bridge request.
func (r *Registry) RecordBridgeRequest(requestType, status string) {
	r.BridgeRequests.WithLabelValues(requestType, status).Inc()
}

// Handler returns the HTTP handler exposing all metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
