// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the bench controller.
// No session, client or request IDs appear in labels to keep cardinality
// bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollTotal counts poll cycles by device type and outcome.
	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_poll_total",
		Help: "Total number of measurement poll cycles, by device type and outcome.",
	}, []string{"device_type", "outcome"})

	// CommandTotal counts serialized device commands by operation and outcome.
	CommandTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_command_total",
		Help: "Total number of device commands, by operation and outcome.",
	}, []string{"op", "outcome"})

	// CommandDuration observes device command latency.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labctl_command_duration_seconds",
		Help:    "Device command latency, by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// ConnectedDevices tracks sessions currently in the connected state.
	ConnectedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labctl_connected_devices",
		Help: "Current number of device sessions in the connected state.",
	})

	// BusDroppedTotal counts bus messages shed under backpressure.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_bus_dropped_total",
		Help: "Total number of push messages dropped under backpressure, by type.",
	}, []string{"message_type"})

	// BusClients tracks attached push clients.
	BusClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "labctl_bus_clients",
		Help: "Current number of attached push clients.",
	})

	// SequenceStepsTotal counts emitted sequence steps by outcome.
	SequenceStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_sequence_steps_total",
		Help: "Total number of sequence steps, by outcome (ok/error/skipped).",
	}, []string{"outcome"})

	// SequenceRunsTotal counts sequence runs by terminal state.
	SequenceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_sequence_runs_total",
		Help: "Total number of sequence runs, by terminal state.",
	}, []string{"terminal"})

	// TriggerFiresTotal counts trigger firings by condition type.
	TriggerFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_trigger_fires_total",
		Help: "Total number of trigger firings, by condition type.",
	}, []string{"condition"})

	// TriggerActionFailuresTotal counts failed trigger actions by action type.
	TriggerActionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_trigger_action_failures_total",
		Help: "Total number of failed trigger actions, by action type.",
	}, []string{"action"})

	// LibrarySavesTotal counts library persist operations by library and outcome.
	LibrarySavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labctl_library_saves_total",
		Help: "Total number of library save operations, by library and outcome.",
	}, []string{"library", "outcome"})
)

// IncPoll records one poll cycle.
func IncPoll(deviceType, outcome string) {
	PollTotal.WithLabelValues(deviceType, outcome).Inc()
}

// IncCommand records one device command.
func IncCommand(op, outcome string) {
	CommandTotal.WithLabelValues(op, outcome).Inc()
}

// IncBusDrop records one shed push message.
func IncBusDrop(messageType string) {
	if messageType == "" {
		messageType = "unknown"
	}
	BusDroppedTotal.WithLabelValues(messageType).Inc()
}

// IncSequenceStep records one sequence step outcome.
func IncSequenceStep(outcome string) {
	SequenceStepsTotal.WithLabelValues(outcome).Inc()
}

// IncTriggerFire records one trigger firing.
func IncTriggerFire(condition string) {
	TriggerFiresTotal.WithLabelValues(condition).Inc()
}
