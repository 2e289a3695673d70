// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scpi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/labctl/internal/device/model"
	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/fault"
)

// Profile maps the generic driver operations onto one instrument family's
// command set. Commands are fmt templates; set commands have no query form,
// so the driver appends a SYST:ERR? round trip to every write.
type Profile struct {
	Type         model.DeviceType
	Capabilities model.Capabilities

	// ModeCommands maps a mode name to its select command.
	ModeCommands map[string]string
	// OutputCommand takes one %d (0 or 1).
	OutputCommand string
	// SetpointCommands map a setpoint name to a template taking one %g.
	SetpointCommands map[string]string
	// MeasurementQueries map a measurement name to its query.
	MeasurementQueries map[string]string
	// OutputQuery returns 0/1/ON/OFF.
	OutputQuery string
}

// Driver is a profile-driven SCPI instrument driver.
type Driver struct {
	id        string
	transport ports.Transport
	profile   Profile
}

// NewDriver wraps an open transport with a command profile.
func NewDriver(id string, t ports.Transport, p Profile) *Driver {
	return &Driver{id: id, transport: t, profile: p}
}

func (d *Driver) Describe(ctx context.Context) (ports.Identity, error) {
	const op = "scpi.describe"

	resp, err := d.transport.Send(ctx, []byte("*IDN?"))
	if err != nil {
		return ports.Identity{}, err
	}
	info, err := parseIDN(d.id, d.profile.Type, string(resp))
	if err != nil {
		return ports.Identity{}, fault.Wrap(fault.KindProtocol, op, err)
	}
	return ports.Identity{Info: info, Capabilities: d.profile.Capabilities}, nil
}

func (d *Driver) ReadStatus(ctx context.Context) (model.Status, error) {
	status := model.Status{
		Setpoints:    map[string]float64{},
		Measurements: map[string]float64{},
	}

	if q := d.profile.OutputQuery; q != "" {
		resp, err := d.transport.Send(ctx, []byte(q))
		if err != nil {
			return model.Status{}, err
		}
		status.OutputEnabled = parseBool(string(resp))
	}

	for name, query := range d.profile.MeasurementQueries {
		resp, err := d.transport.Send(ctx, []byte(query))
		if err != nil {
			return model.Status{}, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(resp)), 64)
		if err != nil {
			return model.Status{}, fault.Newf(fault.KindProtocol, "scpi.readStatus",
				"measurement %s: unparseable response %q", name, resp)
		}
		status.Measurements[name] = v
	}
	return status, nil
}

func (d *Driver) SetMode(ctx context.Context, name string) error {
	const op = "scpi.setMode"
	cmd, ok := d.profile.ModeCommands[name]
	if !ok {
		return fault.Newf(fault.KindPrecondition, op, "no command for mode %q", name)
	}
	return d.write(ctx, op, cmd)
}

func (d *Driver) SetOutput(ctx context.Context, enabled bool) error {
	n := 0
	if enabled {
		n = 1
	}
	return d.write(ctx, "scpi.setOutput", fmt.Sprintf(d.profile.OutputCommand, n))
}

func (d *Driver) SetValue(ctx context.Context, name string, value float64) error {
	const op = "scpi.setValue"
	tmpl, ok := d.profile.SetpointCommands[name]
	if !ok {
		return fault.Newf(fault.KindPrecondition, op, "no command for setpoint %q", name)
	}
	return d.write(ctx, op, fmt.Sprintf(tmpl, value))
}

func (d *Driver) Close() error {
	return d.transport.Close()
}

// write issues a set command chained with an error query so every write
// gets a response frame and instrument-side rejections surface.
func (d *Driver) write(ctx context.Context, op, cmd string) error {
	resp, err := d.transport.Send(ctx, []byte(cmd+";:SYST:ERR?"))
	if err != nil {
		return err
	}
	code, msg := parseSystErr(string(resp))
	if code != 0 {
		return fault.Newf(fault.KindProtocol, op, "instrument error %d: %s", code, msg)
	}
	return nil
}

// parseIDN splits a standard *IDN? response:
// manufacturer,model,serial,firmware.
func parseIDN(id string, typ model.DeviceType, resp string) (model.DeviceInfo, error) {
	parts := strings.Split(resp, ",")
	if len(parts) < 2 {
		return model.DeviceInfo{}, fmt.Errorf("malformed *IDN? response %q", resp)
	}
	info := model.DeviceInfo{
		ID:           id,
		Manufacturer: strings.TrimSpace(parts[0]),
		Model:        strings.TrimSpace(parts[1]),
		Type:         typ,
	}
	if len(parts) > 2 {
		info.Serial = strings.TrimSpace(parts[2])
	}
	return info, nil
}

// parseSystErr parses a SYST:ERR? response like `0,"No error"` or
// `-222,"Data out of range"`. Unparseable responses count as errors.
func parseSystErr(resp string) (int, string) {
	code, msg, found := strings.Cut(strings.TrimSpace(resp), ",")
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return -1, resp
	}
	if found {
		msg = strings.Trim(strings.TrimSpace(msg), `"`)
	}
	return n, msg
}

func parseBool(resp string) bool {
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "1", "ON", "TRUE":
		return true
	}
	return false
}
