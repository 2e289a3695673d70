// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sim provides simulated instruments: a power supply, an electronic
// load and an oscilloscope with plausible physics and measurement noise.
// The daemon falls back to the simulated bench when no SCPI endpoints are
// configured, and the integration tests run against it.
package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/ManuGH/labctl/internal/device/model"
	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/fault"
)

// Enumerator serves the fixed simulated bench.
type Enumerator struct{}

// NewEnumerator returns the simulated-bench enumerator.
func NewEnumerator() *Enumerator { return &Enumerator{} }

// Enumerate lists the simulated instruments. Always succeeds.
func (e *Enumerator) Enumerate(ctx context.Context) ([]string, error) {
	return []string{"sim-psu-1", "sim-load-1", "sim-scope-1"}, nil
}

// Open creates a fresh driver for one simulated instrument.
func (e *Enumerator) Open(ctx context.Context, deviceID string) (ports.Driver, error) {
	switch deviceID {
	case "sim-psu-1":
		return NewPowerSupply(deviceID), nil
	case "sim-load-1":
		return NewElectronicLoad(deviceID), nil
	case "sim-scope-1":
		return NewOscilloscope(deviceID), nil
	default:
		return nil, fault.Newf(fault.KindNotFound, "sim.open", "unknown device %q", deviceID)
	}
}

// instrument carries the state shared by the simulated families.
type instrument struct {
	mu        sync.Mutex
	id        string
	mode      string
	output    bool
	setpoints map[string]float64
	rng       *rand.Rand
	closed    bool
}

func newInstrument(id, mode string) instrument {
	return instrument{
		id:        id,
		mode:      mode,
		setpoints: map[string]float64{},
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (n *instrument) checkOpen(op string) error {
	if n.closed {
		return fault.New(fault.KindTransport, op, "driver closed")
	}
	return nil
}

// noise returns a small multiplicative jitter around v.
func (n *instrument) noise(v, relative float64) float64 {
	return v * (1 + (n.rng.Float64()*2-1)*relative)
}

// PowerSupply is a simulated single-channel bench supply driving a fixed
// resistive load.
type PowerSupply struct {
	instrument
	loadOhms float64
}

// NewPowerSupply creates a supply with a 10 ohm dummy load attached.
func NewPowerSupply(id string) *PowerSupply {
	p := &PowerSupply{instrument: newInstrument(id, "CV"), loadOhms: 10}
	p.setpoints["voltage"] = 0
	p.setpoints["current"] = 1
	return p
}

func (p *PowerSupply) Describe(ctx context.Context) (ports.Identity, error) {
	return ports.Identity{
		Info: model.DeviceInfo{
			ID:           p.id,
			Manufacturer: "SimBench",
			Model:        "SPS-300",
			Serial:       "SIM" + p.id,
			Type:         model.TypePowerSupply,
		},
		Capabilities: model.Capabilities{
			Modes:         []string{"CV", "CC"},
			ModesSettable: true,
			Outputs: []model.SetpointDescriptor{
				{Name: "voltage", Unit: "V", Min: 0, Max: 30, Decimals: 3},
				{Name: "current", Unit: "A", Min: 0, Max: 5, Decimals: 3},
			},
			Measurements: []model.MeasurementDescriptor{
				{Name: "voltage", Unit: "V", Decimals: 3},
				{Name: "current", Unit: "A", Decimals: 3},
				{Name: "power", Unit: "W", Decimals: 3},
			},
		},
	}, nil
}

func (p *PowerSupply) ReadStatus(ctx context.Context) (model.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpen("sim.readStatus"); err != nil {
		return model.Status{}, err
	}

	var volts, amps float64
	if p.output {
		volts = p.setpoints["voltage"]
		amps = volts / p.loadOhms
		// Current limit folds the supply into CC.
		if limit := p.setpoints["current"]; amps > limit {
			amps = limit
			volts = amps * p.loadOhms
		}
		volts = p.noise(volts, 0.002)
		amps = p.noise(amps, 0.005)
	}

	return model.Status{
		Mode:          p.mode,
		OutputEnabled: p.output,
		Setpoints:     cloneValues(p.setpoints),
		Measurements: map[string]float64{
			"voltage": volts,
			"current": amps,
			"power":   volts * amps,
		},
	}, nil
}

func (p *PowerSupply) SetMode(ctx context.Context, name string) error {
	return p.setMode("sim.setMode", name, "CV", "CC")
}

func (p *PowerSupply) SetOutput(ctx context.Context, enabled bool) error {
	return p.setOutput(enabled)
}

func (p *PowerSupply) SetValue(ctx context.Context, name string, value float64) error {
	return p.setValue(name, value, "voltage", "current")
}

func (p *PowerSupply) Close() error { return p.close() }

// ElectronicLoad is a simulated DC load fed from an ideal 24 V source.
type ElectronicLoad struct {
	instrument
	sourceVolts float64
}

// NewElectronicLoad creates a load wired to a 24 V source.
func NewElectronicLoad(id string) *ElectronicLoad {
	l := &ElectronicLoad{instrument: newInstrument(id, "CC"), sourceVolts: 24}
	l.setpoints["current"] = 0
	l.setpoints["voltage"] = 0
	l.setpoints["resistance"] = 100
	l.setpoints["power"] = 0
	return l
}

func (l *ElectronicLoad) Describe(ctx context.Context) (ports.Identity, error) {
	return ports.Identity{
		Info: model.DeviceInfo{
			ID:           l.id,
			Manufacturer: "SimBench",
			Model:        "SEL-400",
			Serial:       "SIM" + l.id,
			Type:         model.TypeElectronicLoad,
		},
		Capabilities: model.Capabilities{
			Modes:         []string{"CC", "CV", "CR", "CP"},
			ModesSettable: true,
			Outputs: []model.SetpointDescriptor{
				{Name: "current", Unit: "A", Min: 0, Max: 40, Decimals: 3, Modes: []string{"CC"}},
				{Name: "voltage", Unit: "V", Min: 0, Max: 150, Decimals: 3, Modes: []string{"CV"}},
				{Name: "resistance", Unit: "Ohm", Min: 0.05, Max: 7500, Decimals: 2, Modes: []string{"CR"}},
				{Name: "power", Unit: "W", Min: 0, Max: 400, Decimals: 2, Modes: []string{"CP"}},
			},
			Measurements: []model.MeasurementDescriptor{
				{Name: "voltage", Unit: "V", Decimals: 3},
				{Name: "current", Unit: "A", Decimals: 3},
				{Name: "power", Unit: "W", Decimals: 3},
			},
		},
	}, nil
}

func (l *ElectronicLoad) ReadStatus(ctx context.Context) (model.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen("sim.readStatus"); err != nil {
		return model.Status{}, err
	}

	var volts, amps float64
	if l.output {
		volts = l.sourceVolts
		switch l.mode {
		case "CC":
			amps = l.setpoints["current"]
		case "CV":
			volts = math.Min(volts, l.setpoints["voltage"])
			amps = 0.5
		case "CR":
			if r := l.setpoints["resistance"]; r > 0 {
				amps = volts / r
			}
		case "CP":
			if volts > 0 {
				amps = l.setpoints["power"] / volts
			}
		}
		volts = l.noise(volts, 0.002)
		amps = l.noise(amps, 0.005)
	}

	return model.Status{
		Mode:          l.mode,
		OutputEnabled: l.output,
		Setpoints:     cloneValues(l.setpoints),
		Measurements: map[string]float64{
			"voltage": volts,
			"current": amps,
			"power":   volts * amps,
		},
	}, nil
}

func (l *ElectronicLoad) SetMode(ctx context.Context, name string) error {
	return l.setMode("sim.setMode", name, "CC", "CV", "CR", "CP")
}

func (l *ElectronicLoad) SetOutput(ctx context.Context, enabled bool) error {
	return l.setOutput(enabled)
}

func (l *ElectronicLoad) SetValue(ctx context.Context, name string, value float64) error {
	return l.setValue(name, value, "current", "voltage", "resistance", "power")
}

func (l *ElectronicLoad) Close() error { return l.close() }

func (n *instrument) setMode(op, name string, allowed ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkOpen(op); err != nil {
		return err
	}
	for _, m := range allowed {
		if m == name {
			n.mode = name
			return nil
		}
	}
	return fault.Newf(fault.KindProtocol, op, "unsupported mode %q", name)
}

func (n *instrument) setOutput(enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkOpen("sim.setOutput"); err != nil {
		return err
	}
	n.output = enabled
	return nil
}

func (n *instrument) setValue(name string, value float64, allowed ...string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkOpen("sim.setValue"); err != nil {
		return err
	}
	for _, s := range allowed {
		if s == name {
			n.setpoints[name] = value
			return nil
		}
	}
	return fault.Newf(fault.KindProtocol, "sim.setValue", "unsupported setpoint %q", name)
}

func (n *instrument) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func cloneValues(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
