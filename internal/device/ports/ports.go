// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ports defines the contracts the device core consumes: the byte
// transport to one instrument, the instrument-family driver on top of it,
// and the enumerator used for discovery. Implementations live in sibling
// packages (scpi, sim); sessions depend only on these interfaces.
package ports

import (
	"context"
	"time"

	"github.com/ManuGH/labctl/internal/device/model"
)

// Transport is a byte-oriented request/response channel to one instrument.
// Concurrency is not guaranteed at this layer; the session serializes access.
type Transport interface {
	// Send writes one request and returns the instrument's response.
	// The deadline of ctx bounds the whole exchange.
	Send(ctx context.Context, request []byte) ([]byte, error)
	Close() error
}

// Identity is the cached result of a driver describe call.
type Identity struct {
	Info         model.DeviceInfo
	Capabilities model.Capabilities
}

// Driver adapts one instrument family to high-level operations. Drivers are
// stateless with respect to sessions; cached state lives in the session.
type Driver interface {
	// Describe returns identity and capabilities. Pure; the result is cached
	// by the session for its lifetime.
	Describe(ctx context.Context) (Identity, error)

	// ReadStatus performs one poll cycle.
	ReadStatus(ctx context.Context) (model.Status, error)

	// SetMode selects a control law. Precondition: modesSettable and the
	// name is one of the declared modes.
	SetMode(ctx context.Context, name string) error

	// SetOutput enables or disables the instrument output.
	SetOutput(ctx context.Context, enabled bool) error

	// SetValue commands one setpoint. Precondition: name is a declared
	// output and the value is within [min, max].
	SetValue(ctx context.Context, name string, value float64) error

	Close() error
}

// ScopeDriver extends Driver with oscilloscope-only operations. Sessions
// expose these through the same serialized command queue.
type ScopeDriver interface {
	Driver

	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	Single(ctx context.Context) error
	AutoSetup(ctx context.Context) error

	// GetWaveform captures the trace of one channel. Waveform transfers get
	// a longer transport timeout than ordinary exchanges.
	GetWaveform(ctx context.Context, channel int) (Waveform, error)
	GetScreenshot(ctx context.Context) ([]byte, error)

	SetChannelEnabled(ctx context.Context, channel int, enabled bool) error
	SetChannelScale(ctx context.Context, channel int, voltsPerDiv float64) error
	SetTimebase(ctx context.Context, secondsPerDiv float64) error
	SetTriggerLevel(ctx context.Context, level float64) error
	SetTriggerSource(ctx context.Context, channel int) error
}

// Waveform is one captured oscilloscope trace.
type Waveform struct {
	Channel    int       `json:"channel"`
	SampleRate float64   `json:"sampleRate"`
	Samples    []float64 `json:"samples"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Enumerator discovers attached instruments and opens drivers for them.
type Enumerator interface {
	// Enumerate lists the device IDs currently reachable.
	Enumerate(ctx context.Context) ([]string, error)
	// Open creates a driver (owning a fresh transport) for the device.
	Open(ctx context.Context, deviceID string) (Driver, error)
}
