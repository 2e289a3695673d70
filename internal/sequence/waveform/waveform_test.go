// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package waveform

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/labctl/internal/sequence/model"
)

func f64(v float64) *float64 { return &v }

func TestGenerateSine(t *testing.T) {
	w := model.Waveform{Type: model.WaveSine, Min: 0, Max: 10, PointsPerCycle: 8, IntervalMs: 100}
	steps := Generate(w)
	require.Len(t, steps, 8)

	center := 5.0
	for i, s := range steps {
		expected := center + 5*math.Sin(2*math.Pi*float64(i+1)/8)
		assert.InDelta(t, expected, s.Value, 1e-9, "step %d", i)
		assert.Equal(t, 100, s.DwellMs)
		assert.GreaterOrEqual(t, s.Value, 0.0)
		assert.LessOrEqual(t, s.Value, 10.0)
	}
	// The last point returns to center so back-to-back cycles join smoothly.
	assert.InDelta(t, center, steps[7].Value, 1e-9)
}

func TestGenerateTriangleLoops(t *testing.T) {
	w := model.Waveform{Type: model.WaveTriangle, Min: 1, Max: 3, PointsPerCycle: 10, IntervalMs: 50}
	steps := Generate(w)
	require.Len(t, steps, 10)

	// Peak at the midpoint, back to min at the end.
	assert.InDelta(t, 3.0, steps[4].Value, 1e-9)
	assert.InDelta(t, 1.0, steps[9].Value, 1e-9)
	for _, s := range steps {
		assert.GreaterOrEqual(t, s.Value, 1.0)
		assert.LessOrEqual(t, s.Value, 3.0)
	}
}

func TestGenerateRamp(t *testing.T) {
	w := model.Waveform{Type: model.WaveRamp, Min: 0, Max: 9, PointsPerCycle: 10, IntervalMs: 50}
	steps := Generate(w)
	require.Len(t, steps, 10)
	for i, s := range steps {
		assert.InDelta(t, float64(i), s.Value, 1e-9)
	}
}

func TestGenerateRampSinglePoint(t *testing.T) {
	w := model.Waveform{Type: model.WaveRamp, Min: 2, Max: 8, PointsPerCycle: 1, IntervalMs: 50}
	steps := Generate(w)
	require.Len(t, steps, 1)
	assert.InDelta(t, 2.0, steps[0].Value, 1e-9)
}

func TestGenerateSquare(t *testing.T) {
	w := model.Waveform{Type: model.WaveSquare, Min: 0, Max: 5, PointsPerCycle: 6, IntervalMs: 50}
	steps := Generate(w)
	require.Len(t, steps, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 5.0, steps[i].Value, "first half high")
	}
	for i := 3; i < 6; i++ {
		assert.Equal(t, 0.0, steps[i].Value, "second half low")
	}
}

func TestGenerateDegenerateRange(t *testing.T) {
	// min == max collapses every waveform to a constant.
	for _, typ := range []model.WaveformType{model.WaveSine, model.WaveTriangle, model.WaveRamp, model.WaveSquare} {
		w := model.Waveform{Type: typ, Min: 4, Max: 4, PointsPerCycle: 5, IntervalMs: 50}
		for i, s := range Generate(w) {
			assert.InDelta(t, 4.0, s.Value, 1e-9, "%s step %d", typ, i)
		}
	}
}

func TestGenerateArbitraryCopies(t *testing.T) {
	in := []model.Step{{Value: 1, DwellMs: 100}, {Value: 2, DwellMs: 200}}
	w := model.Waveform{Type: model.WaveArbitrary, Steps: in}
	steps := Generate(w)
	require.Equal(t, in, steps)

	steps[0].Value = 99
	assert.Equal(t, 1.0, in[0].Value, "caller's steps must not alias the result")
}

func TestRandomWalkBounds(t *testing.T) {
	w := model.Waveform{
		Type: model.WaveRandom, Min: 0, Max: 10,
		PointsPerCycle: 200, IntervalMs: 50,
		StartValue: 5, MaxStepSize: 2,
	}
	rng := rand.New(rand.NewPCG(1, 2))
	steps := Random(w, w.StartValue, rng)
	require.Len(t, steps, 200)

	prev := 5.0
	for i, s := range steps {
		assert.GreaterOrEqual(t, s.Value, 0.0, "step %d", i)
		assert.LessOrEqual(t, s.Value, 10.0, "step %d", i)
		assert.LessOrEqual(t, math.Abs(s.Value-prev), 2.0+1e-9, "step %d delta", i)
		prev = s.Value
	}
}

func TestRandomWalkSeedsFromLastValue(t *testing.T) {
	w := model.Waveform{
		Type: model.WaveRandom, Min: 0, Max: 10,
		PointsPerCycle: 5, IntervalMs: 50, MaxStepSize: 1,
	}
	rng := rand.New(rand.NewPCG(7, 7))
	first := Random(w, 5, rng)
	last := first[len(first)-1].Value

	second := Random(w, last, rng)
	assert.LessOrEqual(t, math.Abs(second[0].Value-last), 1.0+1e-9,
		"next cycle must continue from the previous commanded value")
}

func TestRandomWalkSinglePoint(t *testing.T) {
	w := model.Waveform{
		Type: model.WaveRandom, Min: 0, Max: 10,
		PointsPerCycle: 1, IntervalMs: 50, MaxStepSize: 3,
	}
	rng := rand.New(rand.NewPCG(3, 3))
	steps := Random(w, 12, rng)
	require.Len(t, steps, 1)
	assert.Equal(t, 10.0, steps[0].Value, "seed clamps into range")
}

func TestModifiersOrder(t *testing.T) {
	m := Modifiers{Scale: f64(2), Offset: f64(1), MaxClamp: f64(6)}
	// scale then offset: 3*2+1 = 7, clamped to 6.
	assert.Equal(t, 6.0, m.Apply(3))
	// below the clamp: 2*2+1 = 5.
	assert.Equal(t, 5.0, m.Apply(2))
}

func TestModifiersIdentity(t *testing.T) {
	var m Modifiers
	assert.Equal(t, 1.5, m.Apply(1.5))
}

func TestApplyStepsEnforcesDwellFloor(t *testing.T) {
	m := Modifiers{Offset: f64(1)}
	out := m.ApplySteps([]model.Step{{Value: 1, DwellMs: 10}, {Value: 2, DwellMs: 80}})
	require.Len(t, out, 2)
	assert.Equal(t, model.MinIntervalMs, out[0].DwellMs)
	assert.Equal(t, 80, out[1].DwellMs)
	assert.Equal(t, 2.0, out[0].Value)
	assert.Equal(t, 3.0, out[1].Value)
}
