// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package session implements the per-device state machine. A session owns
// one driver, runs the measurement poll loop, serializes every outgoing
// command, tracks connection health and fans updates out to subscribers.
//
// All driver access happens on a single goroutine, so at most one request
// is in flight on the transport at any moment. User commands take priority
// over scheduled polls. Setpoint writes are optimistic: state is updated
// before the driver call and reverted if it fails.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/device/model"
	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	"github.com/ManuGH/labctl/internal/metrics"
)

const (
	// DefaultPollInterval is the baseline measurement poll period.
	DefaultPollInterval = 250 * time.Millisecond
	// ErrorPollInterval is the stretched period after a poll failure.
	ErrorPollInterval = time.Second
	// MaxConsecutiveErrors is the failure count that trips the session into
	// the error state.
	MaxConsecutiveErrors = 3
	// DefaultCommandTimeout bounds one driver exchange.
	DefaultCommandTimeout = 2 * time.Second
	// DefaultHistoryWindow bounds the measurement history.
	DefaultHistoryWindow = 2 * time.Minute
	// MinHistoryWindow and MaxHistoryWindow clamp configured windows.
	MinHistoryWindow = 2 * time.Minute
	MaxHistoryWindow = 20 * time.Minute

	// userEditRate limits non-immediate setpoint writes from UI edits.
	userEditRate  = rate.Limit(20)
	userEditBurst = 5
)

// Config tunes one session. Zero values select the defaults above.
type Config struct {
	PollInterval   time.Duration
	CommandTimeout time.Duration
	HistoryWindow  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.HistoryWindow < MinHistoryWindow {
		c.HistoryWindow = MinHistoryWindow
	}
	if c.HistoryWindow > MaxHistoryWindow {
		c.HistoryWindow = MaxHistoryWindow
	}
	return c
}

type cmdKind int

const (
	cmdSetMode cmdKind = iota
	cmdSetOutput
	cmdSetValue
	cmdReconnect
	cmdDo
)

type command struct {
	kind cmdKind
	ctx  context.Context

	mode    string
	enabled bool
	name    string
	value   float64

	fn      func(context.Context, ports.Driver) error
	op      string
	timeout time.Duration

	done chan error
}

// Session is one device's state machine.
type Session struct {
	deviceID string
	driver   ports.Driver
	bus      *bus.Bus
	cfg      Config

	limiter *rate.Limiter

	cmds   chan command
	cancel context.CancelFunc
	doneCh chan struct{}

	// state is owned by the run loop; reads go through snapshots taken
	// under stateMu.
	stateMu sync.Mutex
	state   model.SessionState
}

// New wires a session around an already-opened driver. Call Start to
// connect and begin polling.
func New(deviceID string, driver ports.Driver, b *bus.Bus, cfg Config) *Session {
	return &Session{
		deviceID: deviceID,
		driver:   driver,
		bus:      b,
		cfg:      cfg.withDefaults(),
		limiter:  rate.NewLimiter(userEditRate, userEditBurst),
		cmds:     make(chan command),
		doneCh:   make(chan struct{}),
		state: model.SessionState{
			ConnectionStatus: model.StatusDisconnected,
			Setpoints:        map[string]float64{},
			Measurements:     map[string]float64{},
		},
	}
}

// DeviceID returns the session's device identifier.
func (s *Session) DeviceID() string { return s.deviceID }

// Start describes the device and, on success, transitions to connected and
// launches the serialized command/poll loop.
func (s *Session) Start(ctx context.Context) error {
	const op = "session.start"

	dctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	ident, err := s.driver.Describe(dctx)
	cancel()
	if err != nil {
		return fault.Wrap(fault.KindTransport, op, err)
	}

	s.stateMu.Lock()
	s.state.Info = ident.Info
	s.state.Capabilities = ident.Capabilities
	s.state.ConnectionStatus = model.StatusConnected
	s.state.ConsecutiveErrors = 0
	s.state.LastUpdated = time.Now()
	s.stateMu.Unlock()
	metrics.ConnectedDevices.Inc()

	runCtx, cancelRun := context.WithCancel(context.Background())
	s.cancel = cancelRun
	go s.run(runCtx)

	log.WithComponent("session").Info().
		Str(log.FieldDeviceID, s.deviceID).
		Str("model", ident.Info.Model).
		Msg("device connected")
	return nil
}

// Stop cancels the loop, closes the driver and transitions to disconnected.
// Idempotent.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.doneCh
	s.cancel = nil
	_ = s.driver.Close()

	s.stateMu.Lock()
	wasConnected := s.state.ConnectionStatus == model.StatusConnected
	s.state.ConnectionStatus = model.StatusDisconnected
	s.stateMu.Unlock()
	if wasConnected {
		metrics.ConnectedDevices.Dec()
	}
	s.publishField("connectionStatus", string(model.StatusDisconnected))
}

// State returns a deep copy of the current session state.
func (s *Session) State() model.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Clone()
}

// Capabilities returns the cached capability description.
func (s *Session) Capabilities() model.Capabilities {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Capabilities
}

// Info returns the cached device identity.
func (s *Session) Info() model.DeviceInfo {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Info
}

// ConnectionStatus returns the current health state.
func (s *Session) ConnectionStatus() model.ConnectionStatus {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.ConnectionStatus
}

// Subscribe registers the client for device-scoped messages and pushes a
// subscribed message carrying the full current state. Idempotent per
// client. The returned handle cancels the subscription.
func (s *Session) Subscribe(clientID string) func() {
	s.bus.SubscribeDevice(clientID, s.deviceID)
	s.bus.PublishTo(clientID, bus.NewSubscribed(s.deviceID, s.State()))
	return func() { s.Unsubscribe(clientID) }
}

// Unsubscribe drops the client's device-scoped subscription.
func (s *Session) Unsubscribe(clientID string) {
	s.bus.UnsubscribeDevice(clientID, s.deviceID)
}

// SetMode selects a control law. Callers intending a safe mode change turn
// the output off first; the session does not enforce that contract.
func (s *Session) SetMode(ctx context.Context, name string) error {
	const op = "session.setMode"

	caps := s.Capabilities()
	if !caps.ModesSettable {
		return fault.New(fault.KindPrecondition, op, "modes are not settable on this device")
	}
	if !caps.HasMode(name) {
		return fault.Newf(fault.KindPrecondition, op, "unknown mode %q", name)
	}

	return s.dispatch(ctx, command{kind: cmdSetMode, ctx: ctx, mode: name})
}

// SetOutput enables or disables the instrument output.
func (s *Session) SetOutput(ctx context.Context, enabled bool) error {
	return s.dispatch(ctx, command{kind: cmdSetOutput, ctx: ctx, enabled: enabled})
}

// SetValue commands one setpoint. immediate bypasses the session's
// rate-limiting of UI-originated edits; sequence playback sets it so every
// scheduled step reaches the driver. It does not affect ordering.
func (s *Session) SetValue(ctx context.Context, name string, value float64, immediate bool) error {
	const op = "session.setValue"

	caps := s.Capabilities()
	desc, ok := caps.Output(name)
	if !ok {
		return fault.Newf(fault.KindPrecondition, op, "unknown setpoint %q", name)
	}
	if value < desc.Min || value > desc.Max {
		return fault.Newf(fault.KindPrecondition, op, "%s=%g outside [%g, %g]", name, value, desc.Min, desc.Max)
	}

	if !immediate {
		if err := s.limiter.Wait(ctx); err != nil {
			return fault.Wrap(fault.KindTransport, op, err)
		}
	}

	return s.dispatch(ctx, command{kind: cmdSetValue, ctx: ctx, name: name, value: value})
}

// Reconnect attempts to leave the error state. On probe success the session
// transitions back to connected and polling resumes.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.dispatch(ctx, command{kind: cmdReconnect, ctx: ctx})
}

// Do runs fn on the session's serialized command loop, giving exclusive
// driver access. Scope operations (waveform capture, screenshots) use this
// with their own timeout.
func (s *Session) Do(ctx context.Context, op string, timeout time.Duration, fn func(context.Context, ports.Driver) error) error {
	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}
	return s.dispatch(ctx, command{kind: cmdDo, ctx: ctx, op: op, timeout: timeout, fn: fn})
}

func (s *Session) dispatch(ctx context.Context, cmd command) error {
	if s.ConnectionStatus() == model.StatusDisconnected {
		return fault.New(fault.KindState, "session.dispatch", "session is not connected")
	}
	cmd.done = make(chan error, 1)
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return fault.Wrap(fault.KindTransport, "session.dispatch", ctx.Err())
	case <-s.doneCh:
		return fault.New(fault.KindState, "session.dispatch", "session stopped")
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return fault.Wrap(fault.KindTransport, "session.dispatch", ctx.Err())
	}
}

// run is the single writer over the driver. It alternates between user
// commands and scheduled polls, commands first.
func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)

	interval := s.cfg.PollInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.execute(ctx, cmd)
		case <-timer.C:
			// A command racing the tick wins.
			select {
			case cmd := <-s.cmds:
				s.execute(ctx, cmd)
				timer.Reset(0)
				continue
			default:
			}

			if s.ConnectionStatus() != model.StatusConnected {
				// Parked in the error state; only reconnect restarts polling.
				timer.Reset(interval)
				continue
			}
			if s.poll(ctx) {
				interval = s.cfg.PollInterval
			} else {
				interval = ErrorPollInterval
			}
			timer.Reset(interval)
		}
	}
}

// poll runs one readStatus cycle. Returns false on failure.
func (s *Session) poll(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	status, err := s.driver.ReadStatus(pctx)
	cancel()

	devType := string(s.Info().Type)
	if err != nil {
		metrics.IncPoll(devType, "error")
		s.recordFailure()
		return false
	}
	metrics.IncPoll(devType, "ok")

	now := time.Now()
	s.stateMu.Lock()
	s.state.ConsecutiveErrors = 0
	// Mode and setpoints stay user-controlled; the write path is
	// authoritative for them so optimistic UI state is never clobbered.
	s.state.OutputEnabled = status.OutputEnabled
	// Only declared measurements enter state and history; drivers reporting
	// undeclared names must not grow extra series.
	declared := make(map[string]float64, len(status.Measurements))
	for name, v := range status.Measurements {
		if s.state.Capabilities.HasMeasurement(name) {
			declared[name] = v
			s.state.Measurements[name] = v
		}
	}
	s.state.History.Append(now, declared, s.cfg.HistoryWindow)
	s.state.LastUpdated = now
	values := make(map[string]float64, len(s.state.Measurements))
	for k, v := range s.state.Measurements {
		values[k] = v
	}
	s.stateMu.Unlock()

	s.bus.Publish(bus.NewMeasurement(s.deviceID, now, values))
	return true
}

func (s *Session) execute(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSetMode:
		cmd.done <- s.execSetMode(ctx, cmd.mode)
	case cmdSetOutput:
		cmd.done <- s.execSetOutput(ctx, cmd.enabled)
	case cmdSetValue:
		cmd.done <- s.execSetValue(ctx, cmd.name, cmd.value)
	case cmdReconnect:
		cmd.done <- s.execReconnect(ctx)
	case cmdDo:
		cmd.done <- s.execDo(ctx, cmd)
	}
}

func (s *Session) execSetMode(ctx context.Context, name string) error {
	const op = "session.setMode"

	s.stateMu.Lock()
	prev := s.state.Mode
	s.state.Mode = name
	s.stateMu.Unlock()

	if err := s.driverCall(ctx, op, func(dctx context.Context) error {
		return s.driver.SetMode(dctx, name)
	}); err != nil {
		s.stateMu.Lock()
		s.state.Mode = prev
		s.stateMu.Unlock()
		return err
	}

	s.publishField("mode", name)
	return nil
}

func (s *Session) execSetOutput(ctx context.Context, enabled bool) error {
	const op = "session.setOutput"

	s.stateMu.Lock()
	prev := s.state.OutputEnabled
	s.state.OutputEnabled = enabled
	s.stateMu.Unlock()

	if err := s.driverCall(ctx, op, func(dctx context.Context) error {
		return s.driver.SetOutput(dctx, enabled)
	}); err != nil {
		s.stateMu.Lock()
		s.state.OutputEnabled = prev
		s.stateMu.Unlock()
		return err
	}

	s.publishField("outputEnabled", enabled)
	return nil
}

func (s *Session) execSetValue(ctx context.Context, name string, value float64) error {
	const op = "session.setValue"

	s.stateMu.Lock()
	prev, had := s.state.Setpoints[name]
	s.state.Setpoints[name] = value
	s.stateMu.Unlock()

	if err := s.driverCall(ctx, op, func(dctx context.Context) error {
		return s.driver.SetValue(dctx, name, value)
	}); err != nil {
		s.stateMu.Lock()
		if had {
			s.state.Setpoints[name] = prev
		} else {
			delete(s.state.Setpoints, name)
		}
		s.stateMu.Unlock()
		return err
	}

	s.publishField("setpoints."+name, value)
	return nil
}

func (s *Session) execReconnect(ctx context.Context) error {
	const op = "session.reconnect"

	pctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	_, err := s.driver.ReadStatus(pctx)
	cancel()
	if err != nil {
		metrics.IncCommand("reconnect", "error")
		return fault.Wrap(fault.KindTransport, op, err)
	}
	metrics.IncCommand("reconnect", "ok")

	s.stateMu.Lock()
	prev := s.state.ConnectionStatus
	s.state.ConnectionStatus = model.StatusConnected
	s.state.ConsecutiveErrors = 0
	s.stateMu.Unlock()

	if prev != model.StatusConnected {
		metrics.ConnectedDevices.Inc()
		s.publishField("connectionStatus", string(model.StatusConnected))
		log.WithComponent("session").Info().
			Str(log.FieldDeviceID, s.deviceID).
			Msg("device reconnected")
	}
	return nil
}

func (s *Session) execDo(ctx context.Context, cmd command) error {
	dctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()
	start := time.Now()
	err := cmd.fn(dctx, s.driver)
	metrics.CommandDuration.WithLabelValues(cmd.op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IncCommand(cmd.op, "error")
		s.recordFailure()
		s.publishError(cmd.op, err)
		return fault.Wrap(fault.KindTransport, cmd.op, err)
	}
	metrics.IncCommand(cmd.op, "ok")
	s.resetErrors()
	return nil
}

// driverCall wraps one user command: timeout, metrics, health accounting
// and device-scoped error emission.
func (s *Session) driverCall(ctx context.Context, op string, fn func(context.Context) error) error {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	err := fn(dctx)
	metrics.CommandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.IncCommand(op, "error")
		s.recordFailure()
		s.publishError(op, err)
		return fault.Wrap(fault.KindTransport, op, err)
	}
	metrics.IncCommand(op, "ok")
	s.resetErrors()
	return nil
}

func (s *Session) resetErrors() {
	s.stateMu.Lock()
	s.state.ConsecutiveErrors = 0
	s.stateMu.Unlock()
}

// recordFailure bumps the error counter and trips the session into the
// error state at the threshold.
func (s *Session) recordFailure() {
	s.stateMu.Lock()
	s.state.ConsecutiveErrors++
	tripped := s.state.ConnectionStatus == model.StatusConnected &&
		s.state.ConsecutiveErrors >= MaxConsecutiveErrors
	if tripped {
		s.state.ConnectionStatus = model.StatusError
	}
	errs := s.state.ConsecutiveErrors
	s.stateMu.Unlock()

	if tripped {
		metrics.ConnectedDevices.Dec()
		s.publishField("connectionStatus", string(model.StatusError))
		log.WithComponent("session").Warn().
			Str(log.FieldDeviceID, s.deviceID).
			Int("consecutive_errors", errs).
			Msg("device entered error state")
	}
}

func (s *Session) publishField(field string, value any) {
	s.bus.Publish(bus.NewField(s.deviceID, field, value))
}

func (s *Session) publishError(op string, err error) {
	code := string(fault.KindOf(err))
	s.bus.Publish(bus.NewError(s.deviceID, code, fmt.Sprintf("%s: %v", op, err)))
}
