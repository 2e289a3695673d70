// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sim

import (
	"bytes"
	"context"
	"math"
	"sync"
	"time"

	"github.com/ManuGH/labctl/internal/device/model"
	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/fault"
)

const scopeChannels = 4

// Oscilloscope is a simulated four-channel scope. Each channel carries a
// phase-shifted sine; captures synthesize the trace from the acquisition
// settings at call time.
type Oscilloscope struct {
	mu sync.Mutex

	id       string
	running  bool
	closed   bool
	enabled  [scopeChannels]bool
	scale    [scopeChannels]float64
	timebase float64
	trigLvl  float64
	trigSrc  int
}

// NewOscilloscope creates the scope with channel 1 enabled at defaults.
func NewOscilloscope(id string) *Oscilloscope {
	s := &Oscilloscope{
		id:       id,
		running:  true,
		timebase: 1e-3,
		trigSrc:  1,
	}
	s.enabled[0] = true
	for i := range s.scale {
		s.scale[i] = 1.0
	}
	return s
}

func (s *Oscilloscope) Describe(ctx context.Context) (ports.Identity, error) {
	return ports.Identity{
		Info: model.DeviceInfo{
			ID:           s.id,
			Manufacturer: "SimBench",
			Model:        "SDS-1104",
			Serial:       "SIM" + s.id,
			Type:         model.TypeOscilloscope,
		},
		Capabilities: model.Capabilities{
			Channels: scopeChannels,
			Features: map[string]bool{
				"screenshot": true,
				"autoSetup":  true,
			},
			SupportedMeasurements: []string{"vpp", "vrms", "frequency"},
			Measurements: []model.MeasurementDescriptor{
				{Name: "vpp", Unit: "V", Decimals: 3},
				{Name: "vrms", Unit: "V", Decimals: 3},
				{Name: "frequency", Unit: "Hz", Decimals: 1},
			},
		},
	}, nil
}

func (s *Oscilloscope) ReadStatus(ctx context.Context) (model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Status{}, fault.New(fault.KindTransport, "sim.readStatus", "driver closed")
	}

	// Measurements follow the trigger source channel.
	amp := s.signalAmplitude(s.trigSrc)
	return model.Status{
		OutputEnabled: s.running,
		Setpoints:     map[string]float64{},
		Measurements: map[string]float64{
			"vpp":       2 * amp,
			"vrms":      amp / math.Sqrt2,
			"frequency": s.signalFrequency(s.trigSrc),
		},
	}, nil
}

// SetMode is unsupported; scopes expose no control-law modes.
func (s *Oscilloscope) SetMode(ctx context.Context, name string) error {
	return fault.New(fault.KindProtocol, "sim.setMode", "oscilloscope has no modes")
}

// SetOutput maps to run/stop.
func (s *Oscilloscope) SetOutput(ctx context.Context, enabled bool) error {
	if enabled {
		return s.Run(ctx)
	}
	return s.Stop(ctx)
}

// SetValue is unsupported; scope settings go through the scope operations.
func (s *Oscilloscope) SetValue(ctx context.Context, name string, value float64) error {
	return fault.Newf(fault.KindProtocol, "sim.setValue", "unsupported setpoint %q", name)
}

func (s *Oscilloscope) Run(ctx context.Context) error {
	return s.withLock(func() { s.running = true })
}

func (s *Oscilloscope) Stop(ctx context.Context) error {
	return s.withLock(func() { s.running = false })
}

// Single arms one acquisition and stops.
func (s *Oscilloscope) Single(ctx context.Context) error {
	return s.withLock(func() { s.running = false })
}

// AutoSetup restores default scales and timebase.
func (s *Oscilloscope) AutoSetup(ctx context.Context) error {
	return s.withLock(func() {
		for i := range s.scale {
			s.scale[i] = 1.0
		}
		s.timebase = 1e-3
		s.trigLvl = 0
	})
}

func (s *Oscilloscope) GetWaveform(ctx context.Context, channel int) (ports.Waveform, error) {
	const op = "sim.getWaveform"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ports.Waveform{}, fault.New(fault.KindTransport, op, "driver closed")
	}
	if channel < 1 || channel > scopeChannels {
		return ports.Waveform{}, fault.Newf(fault.KindPrecondition, op, "channel %d out of range", channel)
	}
	if !s.enabled[channel-1] {
		return ports.Waveform{}, fault.Newf(fault.KindPrecondition, op, "channel %d is disabled", channel)
	}

	const points = 1200
	window := s.timebase * 12 // 12 horizontal divisions
	sampleRate := float64(points) / window
	freq := s.signalFrequency(channel)
	amp := s.signalAmplitude(channel)

	samples := make([]float64, points)
	for i := range samples {
		t := float64(i) / sampleRate
		samples[i] = amp * math.Sin(2*math.Pi*freq*t+phase(channel))
	}
	return ports.Waveform{
		Channel:    channel,
		SampleRate: sampleRate,
		Samples:    samples,
		CapturedAt: time.Now(),
	}, nil
}

// GetScreenshot returns a tiny stand-in PNG.
func (s *Oscilloscope) GetScreenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fault.New(fault.KindTransport, "sim.getScreenshot", "driver closed")
	}
	var buf bytes.Buffer
	buf.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	return buf.Bytes(), nil
}

func (s *Oscilloscope) SetChannelEnabled(ctx context.Context, channel int, enabled bool) error {
	return s.withChannel(channel, func(i int) { s.enabled[i] = enabled })
}

func (s *Oscilloscope) SetChannelScale(ctx context.Context, channel int, voltsPerDiv float64) error {
	if voltsPerDiv <= 0 {
		return fault.Newf(fault.KindPrecondition, "sim.setChannelScale", "scale must be > 0, got %g", voltsPerDiv)
	}
	return s.withChannel(channel, func(i int) { s.scale[i] = voltsPerDiv })
}

func (s *Oscilloscope) SetTimebase(ctx context.Context, secondsPerDiv float64) error {
	if secondsPerDiv <= 0 {
		return fault.Newf(fault.KindPrecondition, "sim.setTimebase", "timebase must be > 0, got %g", secondsPerDiv)
	}
	return s.withLock(func() { s.timebase = secondsPerDiv })
}

func (s *Oscilloscope) SetTriggerLevel(ctx context.Context, level float64) error {
	return s.withLock(func() { s.trigLvl = level })
}

func (s *Oscilloscope) SetTriggerSource(ctx context.Context, channel int) error {
	return s.withChannel(channel, func(i int) { s.trigSrc = channel })
}

func (s *Oscilloscope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Oscilloscope) withLock(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fault.New(fault.KindTransport, "sim.scope", "driver closed")
	}
	fn()
	return nil
}

func (s *Oscilloscope) withChannel(channel int, fn func(idx int)) error {
	if channel < 1 || channel > scopeChannels {
		return fault.Newf(fault.KindPrecondition, "sim.scope", "channel %d out of range", channel)
	}
	return s.withLock(func() { fn(channel - 1) })
}

// signalFrequency gives each channel a distinct test frequency.
func (s *Oscilloscope) signalFrequency(channel int) float64 {
	return 1000 * float64(channel)
}

func (s *Oscilloscope) signalAmplitude(channel int) float64 {
	return 1.0 + 0.5*float64(channel-1)
}

func phase(channel int) float64 {
	return float64(channel-1) * math.Pi / 4
}

var _ ports.ScopeDriver = (*Oscilloscope)(nil)
