// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys used across the daemon's spans.
const (
	DeviceIDKey   = "device.id"
	DeviceTypeKey = "device.type"
	CommandKey    = "device.command"

	SequenceIDKey = "sequence.id"
	ScriptIDKey   = "trigger.script_id"
	TriggerIDKey  = "trigger.id"

	ClientIDKey    = "client.id"
	MessageTypeKey = "message.type"
)

// DeviceAttributes builds the span attributes of one instrument operation.
func DeviceAttributes(deviceID, deviceType, command string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DeviceIDKey, deviceID),
		attribute.String(DeviceTypeKey, deviceType),
		attribute.String(CommandKey, command),
	}
}

// SequenceAttributes builds the span attributes of one playback run.
func SequenceAttributes(sequenceID, deviceID, parameter string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SequenceIDKey, sequenceID),
		attribute.String(DeviceIDKey, deviceID),
		attribute.String("sequence.parameter", parameter),
	}
}
