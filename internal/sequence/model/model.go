// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model defines sequence definitions, run configuration and the
// published playback state. Waveforms are a tagged union validated at the
// deserialization boundary.
package model

import (
	"time"

	"github.com/ManuGH/labctl/internal/fault"
)

// MinIntervalMs is the floor enforced on step dwell times.
const MinIntervalMs = 50

// WaveformType discriminates the waveform union.
type WaveformType string

const (
	WaveSine      WaveformType = "sine"
	WaveTriangle  WaveformType = "triangle"
	WaveRamp      WaveformType = "ramp"
	WaveSquare    WaveformType = "square"
	WaveSteps     WaveformType = "steps"
	WaveRandom    WaveformType = "random"
	WaveArbitrary WaveformType = "arbitrary"
)

// Step is one setpoint with its dwell time.
type Step struct {
	Value   float64 `json:"value"`
	DwellMs int     `json:"dwellMs"`
}

// Waveform is the tagged union of the three definition forms: parametric
// (sine/triangle/ramp/square/steps), random walk, and arbitrary step lists.
// Only the fields of the active variant are meaningful.
type Waveform struct {
	Type WaveformType `json:"type"`

	// Parametric and random walk
	Min            float64 `json:"min,omitempty"`
	Max            float64 `json:"max,omitempty"`
	PointsPerCycle int     `json:"pointsPerCycle,omitempty"`
	IntervalMs     int     `json:"intervalMs,omitempty"`

	// Random walk only
	StartValue  float64 `json:"startValue,omitempty"`
	MaxStepSize float64 `json:"maxStepSize,omitempty"`

	// Arbitrary only
	Steps []Step `json:"steps,omitempty"`
}

// Validate checks the active variant's invariants.
func (w Waveform) Validate() error {
	const op = "sequence.waveform"
	switch w.Type {
	case WaveSine, WaveTriangle, WaveRamp, WaveSquare, WaveSteps:
		if w.Min > w.Max {
			return fault.Newf(fault.KindPrecondition, op, "min %g > max %g", w.Min, w.Max)
		}
		if w.PointsPerCycle < 1 {
			return fault.Newf(fault.KindPrecondition, op, "pointsPerCycle must be >= 1, got %d", w.PointsPerCycle)
		}
		if w.IntervalMs < MinIntervalMs {
			return fault.Newf(fault.KindPrecondition, op, "intervalMs must be >= %d, got %d", MinIntervalMs, w.IntervalMs)
		}
	case WaveRandom:
		if w.Min > w.Max {
			return fault.Newf(fault.KindPrecondition, op, "min %g > max %g", w.Min, w.Max)
		}
		if w.PointsPerCycle < 1 {
			return fault.Newf(fault.KindPrecondition, op, "pointsPerCycle must be >= 1, got %d", w.PointsPerCycle)
		}
		if w.IntervalMs < MinIntervalMs {
			return fault.Newf(fault.KindPrecondition, op, "intervalMs must be >= %d, got %d", MinIntervalMs, w.IntervalMs)
		}
		if w.MaxStepSize < 0 {
			return fault.Newf(fault.KindPrecondition, op, "maxStepSize must be >= 0, got %g", w.MaxStepSize)
		}
	case WaveArbitrary:
		if len(w.Steps) == 0 {
			return fault.New(fault.KindPrecondition, op, "arbitrary waveform needs at least one step")
		}
		for i, s := range w.Steps {
			if s.DwellMs <= 0 {
				return fault.Newf(fault.KindPrecondition, op, "step %d: dwellMs must be > 0, got %d", i, s.DwellMs)
			}
		}
	default:
		return fault.Newf(fault.KindPrecondition, op, "unknown waveform type %q", w.Type)
	}
	return nil
}

// SequenceDefinition is one durable library entry.
type SequenceDefinition struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	Waveform Waveform `json:"waveform"`

	PreValue  *float64 `json:"preValue,omitempty"`
	PostValue *float64 `json:"postValue,omitempty"`

	// Modifiers, applied in order: scale, offset, maxClamp. Absent values
	// act as identity. MaxSlewRate (units/second) bounds the commanded
	// change between consecutive steps.
	Scale       *float64 `json:"scale,omitempty"`
	Offset      *float64 `json:"offset,omitempty"`
	MaxClamp    *float64 `json:"maxClamp,omitempty"`
	MaxSlewRate *float64 `json:"maxSlewRate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the definition's invariants.
func (d SequenceDefinition) Validate() error {
	const op = "sequence.definition"
	if d.Name == "" {
		return fault.New(fault.KindPrecondition, op, "name must not be empty")
	}
	if d.Unit == "" {
		return fault.New(fault.KindPrecondition, op, "unit must not be empty")
	}
	if d.Scale != nil && *d.Scale == 0 {
		return fault.New(fault.KindPrecondition, op, "scale must not be zero")
	}
	if d.MaxSlewRate != nil && *d.MaxSlewRate <= 0 {
		return fault.Newf(fault.KindPrecondition, op, "maxSlewRate must be > 0, got %g", *d.MaxSlewRate)
	}
	return d.Waveform.Validate()
}

// RepeatMode selects how many cycles a run plays.
type RepeatMode string

const (
	RepeatOnce       RepeatMode = "once"
	RepeatCount      RepeatMode = "count"
	RepeatContinuous RepeatMode = "continuous"
)

// RunConfig binds a sequence to one device parameter for playback.
type RunConfig struct {
	SequenceID  string     `json:"sequenceId"`
	DeviceID    string     `json:"deviceId"`
	Parameter   string     `json:"parameter"`
	RepeatMode  RepeatMode `json:"repeatMode"`
	RepeatCount int        `json:"repeatCount,omitempty"`
}

// TotalCycles resolves the repeat mode to a cycle budget. nil means
// continuous playback.
func (c RunConfig) TotalCycles() (*int, error) {
	switch c.RepeatMode {
	case RepeatOnce:
		one := 1
		return &one, nil
	case RepeatCount:
		if c.RepeatCount < 1 {
			return nil, fault.Newf(fault.KindPrecondition, "sequence.run", "repeatCount must be >= 1, got %d", c.RepeatCount)
		}
		n := c.RepeatCount
		return &n, nil
	case RepeatContinuous:
		return nil, nil
	default:
		return nil, fault.Newf(fault.KindPrecondition, "sequence.run", "unknown repeatMode %q", c.RepeatMode)
	}
}

// ExecutionState is the playback lifecycle state.
type ExecutionState string

const (
	ExecIdle      ExecutionState = "idle"
	ExecRunning   ExecutionState = "running"
	ExecPaused    ExecutionState = "paused"
	ExecCompleted ExecutionState = "completed"
	ExecError     ExecutionState = "error"
)

// SequenceState is the published playback state.
type SequenceState struct {
	SequenceID       string         `json:"sequenceId"`
	RunConfig        RunConfig      `json:"runConfig"`
	ExecutionState   ExecutionState `json:"executionState"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	TotalSteps       int            `json:"totalSteps"`
	CurrentCycle     int            `json:"currentCycle"`
	TotalCycles      *int           `json:"totalCycles"` // nil = continuous
	StartedAt        time.Time      `json:"startedAt"`
	ElapsedMs        int64          `json:"elapsedMs"`
	CommandedValue   float64        `json:"commandedValue"`
	Error            string         `json:"error,omitempty"`
}
