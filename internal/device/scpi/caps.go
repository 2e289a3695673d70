// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scpi

import "github.com/ManuGH/labctl/internal/device/model"

func powerSupplyCaps() model.Capabilities {
	return model.Capabilities{
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
	}
}

func electronicLoadCaps() model.Capabilities {
	return model.Capabilities{
		Modes:         []string{"CC", "CV", "CR", "CP"},
		ModesSettable: true,
		Outputs: []model.SetpointDescriptor{
			{Name: "current", Unit: "A", Min: 0, Max: 40, Decimals: 3},
			{Name: "voltage", Unit: "V", Min: 0, Max: 150, Decimals: 3},
			{Name: "resistance", Unit: "Ohm", Min: 0.05, Max: 7500, Decimals: 2},
			{Name: "power", Unit: "W", Min: 0, Max: 400, Decimals: 2},
		},
		Measurements: []model.MeasurementDescriptor{
			{Name: "voltage", Unit: "V", Decimals: 3},
			{Name: "current", Unit: "A", Decimals: 3},
			{Name: "power", Unit: "W", Decimals: 3},
		},
	}
}
