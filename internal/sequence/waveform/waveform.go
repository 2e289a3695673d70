// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package waveform generates deterministic step lists from waveform
// parameters. All functions are pure except the random walk, which draws
// from a caller-supplied source.
//
// Parametric waveforms with pointsPerCycle >= 2 end at the value that joins
// seamlessly to the start of the next cycle: sine returns to center,
// triangle to min, ramp restarts linearly, square's second half sits at min.
package waveform

import (
	"math"
	"math/rand/v2"

	"github.com/ManuGH/labctl/internal/sequence/model"
)

// Generate materializes the step list for one cycle of a parametric or
// arbitrary waveform. Random-walk waveforms go through Random instead.
// The input is assumed validated.
func Generate(w model.Waveform) []model.Step {
	switch w.Type {
	case model.WaveArbitrary:
		return append([]model.Step(nil), w.Steps...)
	case model.WaveSine:
		return sine(w)
	case model.WaveTriangle:
		return triangle(w)
	case model.WaveRamp, model.WaveSteps:
		return ramp(w)
	case model.WaveSquare:
		return square(w)
	default:
		return nil
	}
}

// Random materializes one cycle of a random walk seeded at seed. The first
// cycle seeds from startValue; later cycles re-seed from the last commanded
// value so the walk is continuous across cycle boundaries.
func Random(w model.Waveform, seed float64, rng *rand.Rand) []model.Step {
	n := w.PointsPerCycle
	steps := make([]model.Step, 0, n)
	prev := clamp(seed, w.Min, w.Max)
	if n == 1 {
		return []model.Step{{Value: prev, DwellMs: w.IntervalMs}}
	}
	for i := 0; i < n; i++ {
		delta := (rng.Float64()*2 - 1) * w.MaxStepSize
		next := clamp(prev+delta, w.Min, w.Max)
		steps = append(steps, model.Step{Value: next, DwellMs: w.IntervalMs})
		prev = next
	}
	return steps
}

func sine(w model.Waveform) []model.Step {
	n := w.PointsPerCycle
	center := (w.Min + w.Max) / 2
	amplitude := (w.Max - w.Min) / 2
	steps := make([]model.Step, 0, n)
	for i := 1; i <= n; i++ {
		v := center + amplitude*math.Sin(2*math.Pi*float64(i)/float64(n))
		steps = append(steps, model.Step{Value: v, DwellMs: w.IntervalMs})
	}
	return steps
}

func triangle(w model.Waveform) []model.Step {
	n := w.PointsPerCycle
	span := w.Max - w.Min
	steps := make([]model.Step, 0, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		var v float64
		if t <= 0.5 {
			v = w.Min + span*2*t
		} else {
			v = w.Max - span*2*(t-0.5)
		}
		steps = append(steps, model.Step{Value: v, DwellMs: w.IntervalMs})
	}
	return steps
}

func ramp(w model.Waveform) []model.Step {
	n := w.PointsPerCycle
	span := w.Max - w.Min
	steps := make([]model.Step, 0, n)
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		steps = append(steps, model.Step{Value: w.Min + span*t, DwellMs: w.IntervalMs})
	}
	return steps
}

func square(w model.Waveform) []model.Step {
	n := w.PointsPerCycle
	steps := make([]model.Step, 0, n)
	high := n / 2
	for i := 0; i < n; i++ {
		v := w.Min
		if i < high {
			v = w.Max
		}
		steps = append(steps, model.Step{Value: v, DwellMs: w.IntervalMs})
	}
	return steps
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// Modifiers transform generated values in a fixed order: scale, then
// offset, then clamp to maxClamp. Absent modifiers act as identity.
type Modifiers struct {
	Scale    *float64
	Offset   *float64
	MaxClamp *float64
}

// ModifiersOf extracts the modifier set of a definition.
func ModifiersOf(d model.SequenceDefinition) Modifiers {
	return Modifiers{Scale: d.Scale, Offset: d.Offset, MaxClamp: d.MaxClamp}
}

// Apply transforms one value.
func (m Modifiers) Apply(v float64) float64 {
	if m.Scale != nil {
		v *= *m.Scale
	}
	if m.Offset != nil {
		v += *m.Offset
	}
	if m.MaxClamp != nil {
		v = math.Min(v, *m.MaxClamp)
	}
	return v
}

// ApplySteps transforms every step value, enforcing the dwell floor.
func (m Modifiers) ApplySteps(steps []model.Step) []model.Step {
	out := make([]model.Step, len(steps))
	for i, s := range steps {
		dwell := s.DwellMs
		if dwell < model.MinIntervalMs {
			dwell = model.MinIntervalMs
		}
		out[i] = model.Step{Value: m.Apply(s.Value), DwellMs: dwell}
	}
	return out
}
