// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the instrument-facing data model: identity,
// capabilities and the authoritative per-device session state.
package model

import "time"

// DeviceType classifies an instrument family.
type DeviceType string

const (
	TypePowerSupply    DeviceType = "power-supply"
	TypeElectronicLoad DeviceType = "electronic-load"
	TypeOscilloscope   DeviceType = "oscilloscope"
)

// ConnectionStatus is the health state of a device session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// DeviceInfo identifies one physical instrument.
type DeviceInfo struct {
	ID           string     `json:"id"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	Serial       string     `json:"serial,omitempty"`
	Type         DeviceType `json:"type"`
}

// SetpointDescriptor describes one commandable output value.
// Modes, when set, restricts the modes in which the setpoint is active.
type SetpointDescriptor struct {
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Decimals int      `json:"decimals"`
	Modes    []string `json:"modes,omitempty"`
}

// MeasurementDescriptor describes one polled read-back value.
type MeasurementDescriptor struct {
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Decimals int    `json:"decimals"`
}

// Capabilities is the static per-device description returned by a driver.
type Capabilities struct {
	Modes                 []string                `json:"modes,omitempty"`
	ModesSettable         bool                    `json:"modesSettable"`
	Outputs               []SetpointDescriptor    `json:"outputs,omitempty"`
	Measurements          []MeasurementDescriptor `json:"measurements,omitempty"`
	Features              map[string]bool         `json:"features,omitempty"`
	Channels              int                     `json:"channels,omitempty"`
	SupportedMeasurements []string                `json:"supportedMeasurements,omitempty"`
}

// Output returns the setpoint descriptor with the given name.
func (c Capabilities) Output(name string) (SetpointDescriptor, bool) {
	for _, o := range c.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return SetpointDescriptor{}, false
}

// HasMeasurement reports whether the device polls the named measurement.
func (c Capabilities) HasMeasurement(name string) bool {
	for _, m := range c.Measurements {
		if m.Name == name {
			return true
		}
	}
	return false
}

// HasMode reports whether name is one of the device modes.
func (c Capabilities) HasMode(name string) bool {
	for _, m := range c.Modes {
		if m == name {
			return true
		}
	}
	return false
}

// Status is the snapshot a driver returns from one poll cycle.
type Status struct {
	Mode          string
	OutputEnabled bool
	Setpoints     map[string]float64
	Measurements  map[string]float64
}

// History holds the bounded measurement time series of one session.
// All series are index-aligned with Timestamps.
type History struct {
	Timestamps []time.Time          `json:"timestamps"`
	Series     map[string][]float64 `json:"series"`
}

// Append adds one sample and drops the prefix older than window.
func (h *History) Append(now time.Time, measurements map[string]float64, window time.Duration) {
	if h.Series == nil {
		h.Series = make(map[string][]float64, len(measurements))
	}
	h.Timestamps = append(h.Timestamps, now)
	for name := range h.Series {
		v, ok := measurements[name]
		if !ok {
			// Keep series aligned even if a poll missed one value.
			if n := len(h.Series[name]); n > 0 {
				v = h.Series[name][n-1]
			}
		}
		h.Series[name] = append(h.Series[name], v)
	}
	for name, v := range measurements {
		if _, ok := h.Series[name]; !ok {
			// New series: backfill so lengths stay equal.
			backfill := make([]float64, len(h.Timestamps)-1, len(h.Timestamps))
			h.Series[name] = append(backfill, v)
		}
	}

	cutoff := now.Add(-window)
	drop := 0
	for drop < len(h.Timestamps) && h.Timestamps[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.Timestamps = append([]time.Time(nil), h.Timestamps[drop:]...)
		for name := range h.Series {
			h.Series[name] = append([]float64(nil), h.Series[name][drop:]...)
		}
	}
}

// Clone returns a deep copy safe to hand to subscribers.
func (h History) Clone() History {
	out := History{
		Timestamps: append([]time.Time(nil), h.Timestamps...),
		Series:     make(map[string][]float64, len(h.Series)),
	}
	for name, vals := range h.Series {
		out.Series[name] = append([]float64(nil), vals...)
	}
	return out
}

// SessionState is the authoritative per-device state published to clients.
type SessionState struct {
	Info              DeviceInfo         `json:"info"`
	Capabilities      Capabilities       `json:"capabilities"`
	ConnectionStatus  ConnectionStatus   `json:"connectionStatus"`
	ConsecutiveErrors int                `json:"consecutiveErrors"`
	Mode              string             `json:"mode,omitempty"`
	OutputEnabled     bool               `json:"outputEnabled"`
	Setpoints         map[string]float64 `json:"setpoints"`
	Measurements      map[string]float64 `json:"measurements"`
	History           History            `json:"history"`
	LastUpdated       time.Time          `json:"lastUpdated"`
}

// Clone returns a deep copy of the state.
func (s SessionState) Clone() SessionState {
	out := s
	out.Setpoints = cloneMap(s.Setpoints)
	out.Measurements = cloneMap(s.Measurements)
	out.History = s.History.Clone()
	return out
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Summary is the device list entry sent to clients.
type Summary struct {
	Info             DeviceInfo       `json:"info"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
}
