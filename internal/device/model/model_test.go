// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppendAndWindow(t *testing.T) {
	var h History
	base := time.Unix(1000, 0)
	window := time.Minute

	for i := 0; i < 5; i++ {
		h.Append(base.Add(time.Duration(i)*15*time.Second), map[string]float64{"voltage": float64(i)}, window)
	}
	require.Len(t, h.Timestamps, 5)
	require.Len(t, h.Series["voltage"], 5)

	// One more sample a minute later drops everything older than the window.
	h.Append(base.Add(2*time.Minute), map[string]float64{"voltage": 9}, window)
	assert.LessOrEqual(t, len(h.Timestamps), 2)
	assert.Equal(t, len(h.Timestamps), len(h.Series["voltage"]))
	assert.Equal(t, 9.0, h.Series["voltage"][len(h.Series["voltage"])-1])
}

func TestHistoryKeepsSeriesAligned(t *testing.T) {
	var h History
	base := time.Unix(1000, 0)
	window := time.Hour

	h.Append(base, map[string]float64{"voltage": 1}, window)
	// A new series appears mid-stream: it gets backfilled to equal length.
	h.Append(base.Add(time.Second), map[string]float64{"voltage": 2, "current": 0.5}, window)
	// A later poll misses one value: the series carries the last sample.
	h.Append(base.Add(2*time.Second), map[string]float64{"voltage": 3}, window)

	require.Len(t, h.Timestamps, 3)
	assert.Equal(t, []float64{1, 2, 3}, h.Series["voltage"])
	require.Len(t, h.Series["current"], 3)
	assert.Equal(t, 0.5, h.Series["current"][2])
}

func TestHistoryClone(t *testing.T) {
	var h History
	h.Append(time.Unix(1, 0), map[string]float64{"voltage": 1}, time.Hour)

	c := h.Clone()
	assert.Empty(t, cmp.Diff(h, c))

	c.Series["voltage"][0] = 99
	assert.Equal(t, 1.0, h.Series["voltage"][0])
}

func TestSessionStateClone(t *testing.T) {
	s := SessionState{
		Setpoints:    map[string]float64{"voltage": 5},
		Measurements: map[string]float64{"current": 1},
	}
	c := s.Clone()
	assert.Empty(t, cmp.Diff(s, c))

	c.Setpoints["voltage"] = 10
	c.Measurements["current"] = 2
	assert.Equal(t, 5.0, s.Setpoints["voltage"])
	assert.Equal(t, 1.0, s.Measurements["current"])
}

func TestCapabilitiesLookups(t *testing.T) {
	caps := Capabilities{
		Modes: []string{"CV", "CC"},
		Outputs: []SetpointDescriptor{
			{Name: "voltage", Unit: "V", Min: 0, Max: 30},
		},
		Measurements: []MeasurementDescriptor{
			{Name: "power", Unit: "W"},
		},
	}

	desc, ok := caps.Output("voltage")
	require.True(t, ok)
	assert.Equal(t, "V", desc.Unit)
	_, ok = caps.Output("frequency")
	assert.False(t, ok)

	assert.True(t, caps.HasMode("CC"))
	assert.False(t, caps.HasMode("CR"))
	assert.True(t, caps.HasMeasurement("power"))
	assert.False(t, caps.HasMeasurement("voltage"))
}
