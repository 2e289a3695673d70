// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldClientID   = "client_id"
	FieldDeviceID   = "device_id"
	FieldSequenceID = "sequence_id"
	FieldScriptID   = "script_id"
	FieldTriggerID  = "trigger_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Instrument fields
	FieldParameter = "parameter"
	FieldMode      = "mode"
	FieldValue     = "value"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
