// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/labctl/internal/fault"
)

func validDefinition() SequenceDefinition {
	return SequenceDefinition{
		Name: "ramp",
		Unit: "V",
		Waveform: Waveform{
			Type: WaveRamp, Min: 0, Max: 5,
			PointsPerCycle: 10, IntervalMs: 100,
		},
	}
}

func TestWaveformValidate(t *testing.T) {
	tests := []struct {
		name    string
		w       Waveform
		wantErr bool
	}{
		{"sine ok", Waveform{Type: WaveSine, Min: 0, Max: 1, PointsPerCycle: 2, IntervalMs: 50}, false},
		{"min above max", Waveform{Type: WaveSine, Min: 2, Max: 1, PointsPerCycle: 2, IntervalMs: 50}, true},
		{"zero points", Waveform{Type: WaveRamp, Min: 0, Max: 1, PointsPerCycle: 0, IntervalMs: 50}, true},
		{"interval below floor", Waveform{Type: WaveRamp, Min: 0, Max: 1, PointsPerCycle: 2, IntervalMs: 49}, true},
		{"random ok", Waveform{Type: WaveRandom, Min: 0, Max: 1, PointsPerCycle: 2, IntervalMs: 50, MaxStepSize: 0.1}, false},
		{"random negative step", Waveform{Type: WaveRandom, Min: 0, Max: 1, PointsPerCycle: 2, IntervalMs: 50, MaxStepSize: -1}, true},
		{"arbitrary ok", Waveform{Type: WaveArbitrary, Steps: []Step{{Value: 1, DwellMs: 100}}}, false},
		{"arbitrary empty", Waveform{Type: WaveArbitrary}, true},
		{"arbitrary bad dwell", Waveform{Type: WaveArbitrary, Steps: []Step{{Value: 1, DwellMs: 0}}}, true},
		{"unknown type", Waveform{Type: "sawtooth"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, fault.IsKind(err, fault.KindPrecondition))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefinitionValidate(t *testing.T) {
	d := validDefinition()
	require.NoError(t, d.Validate())

	noName := validDefinition()
	noName.Name = ""
	assert.Error(t, noName.Validate())

	noUnit := validDefinition()
	noUnit.Unit = ""
	assert.Error(t, noUnit.Validate())

	zeroScale := validDefinition()
	zero := 0.0
	zeroScale.Scale = &zero
	assert.Error(t, zeroScale.Validate())

	badSlew := validDefinition()
	neg := -1.0
	badSlew.MaxSlewRate = &neg
	assert.Error(t, badSlew.Validate())
}

func TestRunConfigTotalCycles(t *testing.T) {
	once, err := RunConfig{RepeatMode: RepeatOnce}.TotalCycles()
	require.NoError(t, err)
	require.NotNil(t, once)
	assert.Equal(t, 1, *once)

	counted, err := RunConfig{RepeatMode: RepeatCount, RepeatCount: 4}.TotalCycles()
	require.NoError(t, err)
	require.NotNil(t, counted)
	assert.Equal(t, 4, *counted)

	_, err = RunConfig{RepeatMode: RepeatCount, RepeatCount: 0}.TotalCycles()
	assert.Error(t, err)

	cont, err := RunConfig{RepeatMode: RepeatContinuous}.TotalCycles()
	require.NoError(t, err)
	assert.Nil(t, cont)

	_, err = RunConfig{RepeatMode: "forever"}.TotalCycles()
	assert.Error(t, err)
}
