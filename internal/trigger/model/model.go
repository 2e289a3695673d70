// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model defines trigger scripts: ordered reactive rules evaluated
// against elapsed time and live measurements. Conditions and actions are
// tagged unions validated at the deserialization boundary.
package model

import (
	"time"

	"github.com/ManuGH/labctl/internal/fault"
	seqmodel "github.com/ManuGH/labctl/internal/sequence/model"
)

// ConditionType discriminates the condition union.
type ConditionType string

const (
	// CondTime fires on elapsed time since script start.
	CondTime ConditionType = "time"
	// CondValue fires on a rising edge of a measurement predicate.
	CondValue ConditionType = "value"
)

// Operator is a comparison in a value condition.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator to a measurement sample.
func (o Operator) Compare(sample, threshold float64) bool {
	switch o {
	case OpGreater:
		return sample > threshold
	case OpLess:
		return sample < threshold
	case OpGreaterEqual:
		return sample >= threshold
	case OpLessEqual:
		return sample <= threshold
	case OpEqual:
		return sample == threshold
	case OpNotEqual:
		return sample != threshold
	default:
		return false
	}
}

func (o Operator) valid() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Condition is the tagged union of trigger conditions.
type Condition struct {
	Type ConditionType `json:"type"`

	// time
	Seconds float64 `json:"seconds,omitempty"`

	// value
	DeviceID  string   `json:"deviceId,omitempty"`
	Parameter string   `json:"parameter,omitempty"`
	Operator  Operator `json:"operator,omitempty"`
	Value     float64  `json:"value,omitempty"`
}

// Validate checks the fields of the active variant.
func (c Condition) Validate() error {
	const op = "trigger.condition"
	switch c.Type {
	case CondTime:
		if c.Seconds < 0 {
			return fault.Newf(fault.KindPrecondition, op, "seconds must be >= 0, got %g", c.Seconds)
		}
	case CondValue:
		if c.DeviceID == "" {
			return fault.New(fault.KindPrecondition, op, "deviceId must not be empty")
		}
		if c.Parameter == "" {
			return fault.New(fault.KindPrecondition, op, "parameter must not be empty")
		}
		if !c.Operator.valid() {
			return fault.Newf(fault.KindPrecondition, op, "unknown operator %q", c.Operator)
		}
	default:
		return fault.Newf(fault.KindPrecondition, op, "unknown condition type %q", c.Type)
	}
	return nil
}

// ActionType discriminates the action union.
type ActionType string

const (
	ActSetValue      ActionType = "setValue"
	ActSetOutput     ActionType = "setOutput"
	ActSetMode       ActionType = "setMode"
	ActStartSequence ActionType = "startSequence"
	ActStopSequence  ActionType = "stopSequence"
	ActPauseSequence ActionType = "pauseSequence"
)

// Action is the tagged union of trigger actions.
type Action struct {
	Type ActionType `json:"type"`

	// setValue / setOutput / setMode
	DeviceID  string  `json:"deviceId,omitempty"`
	Parameter string  `json:"parameter,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Enabled   bool    `json:"enabled,omitempty"`
	Mode      string  `json:"mode,omitempty"`

	// startSequence
	Run *seqmodel.RunConfig `json:"run,omitempty"`
}

// Validate checks the fields of the active variant.
func (a Action) Validate() error {
	const op = "trigger.action"
	switch a.Type {
	case ActSetValue:
		if a.DeviceID == "" || a.Parameter == "" {
			return fault.New(fault.KindPrecondition, op, "setValue requires deviceId and parameter")
		}
	case ActSetOutput:
		if a.DeviceID == "" {
			return fault.New(fault.KindPrecondition, op, "setOutput requires deviceId")
		}
	case ActSetMode:
		if a.DeviceID == "" || a.Mode == "" {
			return fault.New(fault.KindPrecondition, op, "setMode requires deviceId and mode")
		}
	case ActStartSequence:
		if a.Run == nil {
			return fault.New(fault.KindPrecondition, op, "startSequence requires a run config")
		}
		if a.Run.SequenceID == "" || a.Run.DeviceID == "" || a.Run.Parameter == "" {
			return fault.New(fault.KindPrecondition, op, "startSequence requires sequenceId, deviceId and parameter")
		}
		if _, err := a.Run.TotalCycles(); err != nil {
			return err
		}
	case ActStopSequence, ActPauseSequence:
		// no payload
	default:
		return fault.Newf(fault.KindPrecondition, op, "unknown action type %q", a.Type)
	}
	return nil
}

// RepeatMode selects whether a trigger fires once or on every re-arm.
type RepeatMode string

const (
	RepeatOnce   RepeatMode = "once"
	RepeatRepeat RepeatMode = "repeat"
)

// Trigger is one reactive rule.
type Trigger struct {
	ID         string     `json:"id"`
	Condition  Condition  `json:"condition"`
	Action     Action     `json:"action"`
	RepeatMode RepeatMode `json:"repeatMode"`
	DebounceMs int        `json:"debounceMs"`
}

// Validate checks one rule.
func (t Trigger) Validate() error {
	const op = "trigger"
	if t.RepeatMode != RepeatOnce && t.RepeatMode != RepeatRepeat {
		return fault.Newf(fault.KindPrecondition, op, "unknown repeatMode %q", t.RepeatMode)
	}
	if t.DebounceMs < 0 {
		return fault.Newf(fault.KindPrecondition, op, "debounceMs must be >= 0, got %d", t.DebounceMs)
	}
	if err := t.Condition.Validate(); err != nil {
		return err
	}
	return t.Action.Validate()
}

// TriggerScript is a named, ordered collection of triggers.
type TriggerScript struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Triggers  []Trigger `json:"triggers"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the script and every trigger. Trigger IDs must be unique
// within the script so per-trigger state is unambiguous.
func (s TriggerScript) Validate() error {
	const op = "trigger.script"
	if s.Name == "" {
		return fault.New(fault.KindPrecondition, op, "name must not be empty")
	}
	seen := make(map[string]struct{}, len(s.Triggers))
	for i, t := range s.Triggers {
		if t.ID == "" {
			return fault.Newf(fault.KindPrecondition, op, "trigger %d missing id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fault.Newf(fault.KindPrecondition, op, "duplicate trigger id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ExecutionState is the script lifecycle state.
type ExecutionState string

const (
	ExecIdle    ExecutionState = "idle"
	ExecRunning ExecutionState = "running"
	ExecPaused  ExecutionState = "paused"
	ExecError   ExecutionState = "error"
)

// TriggerState is the runtime state of one trigger.
type TriggerState struct {
	TriggerID    string     `json:"triggerId"`
	FiredCount   int        `json:"firedCount"`
	LastFiredAt  *time.Time `json:"lastFiredAt"`
	ConditionMet bool       `json:"conditionMet"`
}

// TriggerScriptState is the observable state of one script execution.
type TriggerScriptState struct {
	ScriptID       string         `json:"scriptId"`
	ExecutionState ExecutionState `json:"executionState"`
	StartedAt      time.Time      `json:"startedAt"`
	ElapsedMs      int64          `json:"elapsedMs"`
	TriggerStates  []TriggerState `json:"triggerStates"`
	Error          string         `json:"error,omitempty"`
}
