// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scpi

import (
	"context"

	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/fault"
)

// Endpoint is one configured instrument address.
type Endpoint struct {
	ID      string
	Addr    string
	Profile Profile
}

// Enumerator discovers instruments from a static endpoint table. Enumerate
// probes reachability by dialing; Open hands the dialed transport to a
// profile driver.
type Enumerator struct {
	endpoints []Endpoint
}

// NewEnumerator builds an enumerator over the configured endpoints.
func NewEnumerator(endpoints []Endpoint) *Enumerator {
	return &Enumerator{endpoints: append([]Endpoint(nil), endpoints...)}
}

// Enumerate returns the IDs of endpoints that accept a TCP connection.
// Unreachable endpoints are skipped, not errors; cables come and go.
func (e *Enumerator) Enumerate(ctx context.Context) ([]string, error) {
	var ids []string
	for _, ep := range e.endpoints {
		t, err := Dial(ctx, ep.Addr)
		if err != nil {
			continue
		}
		_ = t.Close()
		ids = append(ids, ep.ID)
	}
	return ids, nil
}

// Open dials the endpoint and wraps it in its profile driver.
func (e *Enumerator) Open(ctx context.Context, deviceID string) (ports.Driver, error) {
	for _, ep := range e.endpoints {
		if ep.ID != deviceID {
			continue
		}
		t, err := Dial(ctx, ep.Addr)
		if err != nil {
			return nil, err
		}
		return NewDriver(ep.ID, t, ep.Profile), nil
	}
	return nil, fault.Newf(fault.KindNotFound, "scpi.open", "unknown device %q", deviceID)
}

// PowerSupplyProfile is the command set of a generic single-channel SCPI
// power supply.
func PowerSupplyProfile() Profile {
	return Profile{
		Type: "power-supply",
		Capabilities: powerSupplyCaps(),
		ModeCommands: map[string]string{
			"CV": "FUNC:MODE CV",
			"CC": "FUNC:MODE CC",
		},
		OutputCommand: "OUTP %d",
		SetpointCommands: map[string]string{
			"voltage": "VOLT %g",
			"current": "CURR %g",
		},
		MeasurementQueries: map[string]string{
			"voltage": "MEAS:VOLT?",
			"current": "MEAS:CURR?",
			"power":   "MEAS:POW?",
		},
		OutputQuery: "OUTP?",
	}
}

// ElectronicLoadProfile is the command set of a generic SCPI electronic load.
func ElectronicLoadProfile() Profile {
	return Profile{
		Type: "electronic-load",
		Capabilities: electronicLoadCaps(),
		ModeCommands: map[string]string{
			"CC": "FUNC CURR",
			"CV": "FUNC VOLT",
			"CR": "FUNC RES",
			"CP": "FUNC POW",
		},
		OutputCommand: "INP %d",
		SetpointCommands: map[string]string{
			"current":    "CURR %g",
			"voltage":    "VOLT %g",
			"resistance": "RES %g",
			"power":      "POW %g",
		},
		MeasurementQueries: map[string]string{
			"voltage": "MEAS:VOLT?",
			"current": "MEAS:CURR?",
			"power":   "MEAS:POW?",
		},
		OutputQuery: "INP?",
	}
}
