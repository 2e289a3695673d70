// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"time"

	devmodel "github.com/ManuGH/labctl/internal/device/model"
	seqmodel "github.com/ManuGH/labctl/internal/sequence/model"
	trgmodel "github.com/ManuGH/labctl/internal/trigger/model"
)

// Message is one typed server-push message. DeviceScope returns the device
// ID for device-scoped messages and "" for global ones. Droppable marks
// messages the bus may shed under backpressure.
type Message interface {
	MessageType() string
	DeviceScope() string
	Droppable() bool
}

type global struct{}

func (global) DeviceScope() string { return "" }
func (global) Droppable() bool     { return false }

// DeviceList carries the current device set.
type DeviceList struct {
	Type    string            `json:"type"`
	Devices []devmodel.Summary `json:"devices"`

	global `json:"-"`
}

func NewDeviceList(devices []devmodel.Summary) DeviceList {
	return DeviceList{Type: "deviceList", Devices: devices}
}

func (m DeviceList) MessageType() string { return m.Type }

// Subscribed carries the full session state after a device subscription.
type Subscribed struct {
	Type     string                `json:"type"`
	DeviceID string                `json:"deviceId"`
	State    devmodel.SessionState `json:"state"`
}

func NewSubscribed(deviceID string, state devmodel.SessionState) Subscribed {
	return Subscribed{Type: "subscribed", DeviceID: deviceID, State: state}
}

func (m Subscribed) MessageType() string { return m.Type }
func (m Subscribed) DeviceScope() string { return m.DeviceID }
func (m Subscribed) Droppable() bool     { return false }

// MeasurementUpdate is one poll sample.
type MeasurementUpdate struct {
	Timestamp    time.Time          `json:"timestamp"`
	Measurements map[string]float64 `json:"measurements"`
}

// Measurement carries one poll sample to device subscribers. It is the only
// message class the bus may drop under backpressure.
type Measurement struct {
	Type     string            `json:"type"`
	DeviceID string            `json:"deviceId"`
	Update   MeasurementUpdate `json:"update"`
}

func NewMeasurement(deviceID string, ts time.Time, values map[string]float64) Measurement {
	return Measurement{
		Type:     "measurement",
		DeviceID: deviceID,
		Update:   MeasurementUpdate{Timestamp: ts, Measurements: values},
	}
}

func (m Measurement) MessageType() string { return m.Type }
func (m Measurement) DeviceScope() string { return m.DeviceID }
func (m Measurement) Droppable() bool     { return true }

// Field carries one changed session field. Field names: "mode",
// "outputEnabled", "connectionStatus", "setpoints.<name>".
type Field struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Field    string `json:"field"`
	Value    any    `json:"value"`
}

func NewField(deviceID, field string, value any) Field {
	return Field{Type: "field", DeviceID: deviceID, Field: field, Value: value}
}

func (m Field) MessageType() string { return m.Type }
func (m Field) DeviceScope() string { return m.DeviceID }
func (m Field) Droppable() bool     { return false }

// Error reports a failure. DeviceID is empty for global errors.
type Error struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func NewError(deviceID, code, message string) Error {
	return Error{Type: "error", DeviceID: deviceID, Code: code, Message: message}
}

func (m Error) MessageType() string { return m.Type }
func (m Error) DeviceScope() string { return m.DeviceID }
func (m Error) Droppable() bool     { return false }

// SequenceLibrary carries the full sequence library.
type SequenceLibrary struct {
	Type      string                        `json:"type"`
	Sequences []seqmodel.SequenceDefinition `json:"sequences"`

	global `json:"-"`
}

func NewSequenceLibrary(sequences []seqmodel.SequenceDefinition) SequenceLibrary {
	return SequenceLibrary{Type: "sequenceLibrary", Sequences: sequences}
}

func (m SequenceLibrary) MessageType() string { return m.Type }

// SequenceLibrarySaved acknowledges a save/update.
type SequenceLibrarySaved struct {
	Type       string `json:"type"`
	SequenceID string `json:"sequenceId"`

	global `json:"-"`
}

func NewSequenceLibrarySaved(id string) SequenceLibrarySaved {
	return SequenceLibrarySaved{Type: "sequenceLibrarySaved", SequenceID: id}
}

func (m SequenceLibrarySaved) MessageType() string { return m.Type }

// SequenceLibraryDeleted acknowledges a delete.
type SequenceLibraryDeleted struct {
	Type       string `json:"type"`
	SequenceID string `json:"sequenceId"`

	global `json:"-"`
}

func NewSequenceLibraryDeleted(id string) SequenceLibraryDeleted {
	return SequenceLibraryDeleted{Type: "sequenceLibraryDeleted", SequenceID: id}
}

func (m SequenceLibraryDeleted) MessageType() string { return m.Type }

// SequenceStarted announces sequence playback start.
type SequenceStarted struct {
	Type  string                 `json:"type"`
	State seqmodel.SequenceState `json:"state"`

	global `json:"-"`
}

func NewSequenceStarted(state seqmodel.SequenceState) SequenceStarted {
	return SequenceStarted{Type: "sequenceStarted", State: state}
}

func (m SequenceStarted) MessageType() string { return m.Type }

// SequenceProgress is emitted once per executed step.
type SequenceProgress struct {
	Type  string                 `json:"type"`
	State seqmodel.SequenceState `json:"state"`

	global `json:"-"`
}

func NewSequenceProgress(state seqmodel.SequenceState) SequenceProgress {
	return SequenceProgress{Type: "sequenceProgress", State: state}
}

func (m SequenceProgress) MessageType() string { return m.Type }

// SequenceCompleted is the terminal success event.
type SequenceCompleted struct {
	Type       string `json:"type"`
	SequenceID string `json:"sequenceId"`

	global `json:"-"`
}

func NewSequenceCompleted(id string) SequenceCompleted {
	return SequenceCompleted{Type: "sequenceCompleted", SequenceID: id}
}

func (m SequenceCompleted) MessageType() string { return m.Type }

// SequenceAborted is the terminal abort event.
type SequenceAborted struct {
	Type       string `json:"type"`
	SequenceID string `json:"sequenceId"`

	global `json:"-"`
}

func NewSequenceAborted(id string) SequenceAborted {
	return SequenceAborted{Type: "sequenceAborted", SequenceID: id}
}

func (m SequenceAborted) MessageType() string { return m.Type }

// SequenceError is the terminal failure event.
type SequenceError struct {
	Type       string `json:"type"`
	SequenceID string `json:"sequenceId"`
	Error      string `json:"error"`

	global `json:"-"`
}

func NewSequenceError(id, errMsg string) SequenceError {
	return SequenceError{Type: "sequenceError", SequenceID: id, Error: errMsg}
}

func (m SequenceError) MessageType() string { return m.Type }

// TriggerScriptLibrary carries the full trigger script library.
type TriggerScriptLibrary struct {
	Type    string                   `json:"type"`
	Scripts []trgmodel.TriggerScript `json:"scripts"`

	global `json:"-"`
}

func NewTriggerScriptLibrary(scripts []trgmodel.TriggerScript) TriggerScriptLibrary {
	return TriggerScriptLibrary{Type: "triggerScriptLibrary", Scripts: scripts}
}

func (m TriggerScriptLibrary) MessageType() string { return m.Type }

// TriggerScriptLibrarySaved acknowledges a save/update.
type TriggerScriptLibrarySaved struct {
	Type     string `json:"type"`
	ScriptID string `json:"scriptId"`

	global `json:"-"`
}

func NewTriggerScriptLibrarySaved(id string) TriggerScriptLibrarySaved {
	return TriggerScriptLibrarySaved{Type: "triggerScriptLibrarySaved", ScriptID: id}
}

func (m TriggerScriptLibrarySaved) MessageType() string { return m.Type }

// TriggerScriptLibraryDeleted acknowledges a delete.
type TriggerScriptLibraryDeleted struct {
	Type     string `json:"type"`
	ScriptID string `json:"scriptId"`

	global `json:"-"`
}

func NewTriggerScriptLibraryDeleted(id string) TriggerScriptLibraryDeleted {
	return TriggerScriptLibraryDeleted{Type: "triggerScriptLibraryDeleted", ScriptID: id}
}

func (m TriggerScriptLibraryDeleted) MessageType() string { return m.Type }

// TriggerScriptStarted announces script start.
type TriggerScriptStarted struct {
	Type  string                      `json:"type"`
	State trgmodel.TriggerScriptState `json:"state"`

	global `json:"-"`
}

func NewTriggerScriptStarted(state trgmodel.TriggerScriptState) TriggerScriptStarted {
	return TriggerScriptStarted{Type: "triggerScriptStarted", State: state}
}

func (m TriggerScriptStarted) MessageType() string { return m.Type }

// TriggerScriptProgress carries the periodic script state.
type TriggerScriptProgress struct {
	Type  string                      `json:"type"`
	State trgmodel.TriggerScriptState `json:"state"`

	global `json:"-"`
}

func NewTriggerScriptProgress(state trgmodel.TriggerScriptState) TriggerScriptProgress {
	return TriggerScriptProgress{Type: "triggerScriptProgress", State: state}
}

func (m TriggerScriptProgress) MessageType() string { return m.Type }

// TriggerScriptStopped is the terminal stop event.
type TriggerScriptStopped struct {
	Type     string `json:"type"`
	ScriptID string `json:"scriptId"`

	global `json:"-"`
}

func NewTriggerScriptStopped(id string) TriggerScriptStopped {
	return TriggerScriptStopped{Type: "triggerScriptStopped", ScriptID: id}
}

func (m TriggerScriptStopped) MessageType() string { return m.Type }

// TriggerScriptPaused announces evaluation suspension.
type TriggerScriptPaused struct {
	Type     string `json:"type"`
	ScriptID string `json:"scriptId"`

	global `json:"-"`
}

func NewTriggerScriptPaused(id string) TriggerScriptPaused {
	return TriggerScriptPaused{Type: "triggerScriptPaused", ScriptID: id}
}

func (m TriggerScriptPaused) MessageType() string { return m.Type }

// TriggerScriptResumed announces evaluation resumption.
type TriggerScriptResumed struct {
	Type     string `json:"type"`
	ScriptID string `json:"scriptId"`

	global `json:"-"`
}

func NewTriggerScriptResumed(id string) TriggerScriptResumed {
	return TriggerScriptResumed{Type: "triggerScriptResumed", ScriptID: id}
}

func (m TriggerScriptResumed) MessageType() string { return m.Type }

// TriggerScriptError is the terminal runtime failure event.
type TriggerScriptError struct {
	Type     string `json:"type"`
	ScriptID string `json:"scriptId"`
	Error    string `json:"error"`

	global `json:"-"`
}

func NewTriggerScriptError(id, errMsg string) TriggerScriptError {
	return TriggerScriptError{Type: "triggerScriptError", ScriptID: id, Error: errMsg}
}

func (m TriggerScriptError) MessageType() string { return m.Type }

// TriggerFired reports one trigger firing.
type TriggerFired struct {
	Type         string                `json:"type"`
	ScriptID     string                `json:"scriptId"`
	TriggerID    string                `json:"triggerId"`
	TriggerState trgmodel.TriggerState `json:"triggerState"`

	global `json:"-"`
}

func NewTriggerFired(scriptID, triggerID string, state trgmodel.TriggerState) TriggerFired {
	return TriggerFired{Type: "triggerFired", ScriptID: scriptID, TriggerID: triggerID, TriggerState: state}
}

func (m TriggerFired) MessageType() string { return m.Type }

// TriggerActionFailed reports a failed trigger action. The script continues.
type TriggerActionFailed struct {
	Type       string `json:"type"`
	ScriptID   string `json:"scriptId"`
	TriggerID  string `json:"triggerId"`
	ActionType string `json:"actionType"`
	Error      string `json:"error"`

	global `json:"-"`
}

func NewTriggerActionFailed(scriptID, triggerID, actionType, errMsg string) TriggerActionFailed {
	return TriggerActionFailed{
		Type: "triggerActionFailed", ScriptID: scriptID, TriggerID: triggerID,
		ActionType: actionType, Error: errMsg,
	}
}

func (m TriggerActionFailed) MessageType() string { return m.Type }
