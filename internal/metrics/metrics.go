// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus instrumentation for the capture
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the pipeline's Prometheus collectors.
type Registry struct {
	reg *prometheus.Registry

	PacketsCaptured   *prometheus.CounterVec
	PacketsMalicious  prometheus.Counter
	BufferSize        prometheus.Gauge
	BufferCapacity    prometheus.Gauge
	PersistenceQueue  prometheus.Gauge
	PersistenceDrops  prometheus.Counter
	PersistenceErrors prometheus.Counter
	HousekeepingRuns  prometheus.Counter
	ExpiredDeleted    prometheus.Counter
	Subscribers       *prometheus.GaugeVec
	BroadcastDrops    *prometheus.CounterVec
	CaptureErrors     prometheus.Counter
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.PacketsCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "packets_captured_total",
		Help:      "Packets decoded by the capture loop, by transport protocol.",
	}, []string{"protocol"})

	r.PacketsMalicious = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "packets_malicious_total",
		Help:      "Packets flagged by the malicious-traffic heuristic.",
	})

	r.BufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nautscan",
		Name:      "buffer_packets",
		Help:      "Packets currently held in the in-memory ring buffer.",
	})

	r.BufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nautscan",
		Name:      "buffer_capacity",
		Help:      "Configured capacity of the in-memory ring buffer.",
	})

	r.PersistenceQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nautscan",
		Name:      "persistence_queue_depth",
		Help:      "Events waiting for the asynchronous database writer.",
	})

	r.PersistenceDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "persistence_dropped_total",
		Help:      "Events dropped because the persistence queue was full.",
	})

	r.PersistenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "persistence_errors_total",
		Help:      "Durable write failures; each drops exactly one event.",
	})

	r.HousekeepingRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "housekeeping_runs_total",
		Help:      "Completed housekeeping passes.",
	})

	r.ExpiredDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "housekeeping_deleted_total",
		Help:      "Expired packet records removed by housekeeping.",
	})

	r.Subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nautscan",
		Name:      "broadcast_subscribers",
		Help:      "Live subscribers per broadcast channel.",
	}, []string{"channel"})

	r.BroadcastDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "broadcast_dropped_subscribers_total",
		Help:      "Subscribers removed after a failed delivery, per channel.",
	}, []string{"channel"})

	r.CaptureErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nautscan",
		Name:      "capture_backend_errors_total",
		Help:      "Capture primitive errors that were retried.",
	})

	r.reg.MustRegister(
		r.PacketsCaptured, r.PacketsMalicious,
		r.BufferSize, r.BufferCapacity,
		r.PersistenceQueue, r.PersistenceDrops, r.PersistenceErrors,
		r.HousekeepingRuns, r.ExpiredDeleted,
		r.Subscribers, r.BroadcastDrops,
		r.CaptureErrors,
	)
	return r
}

// Prometheus returns the underlying registry for HTTP exposure.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
