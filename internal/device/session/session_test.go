// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/device/model"
	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/fault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDriver is a scriptable in-memory driver.
type fakeDriver struct {
	mu sync.Mutex

	mode      string
	output    bool
	setpoints map[string]float64

	failStatus  bool
	failSet     bool
	statusCalls int
	setCalls    int
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{setpoints: map[string]float64{}}
}

func (d *fakeDriver) caps() model.Capabilities {
	return model.Capabilities{
		Modes:         []string{"CV", "CC"},
		ModesSettable: true,
		Outputs: []model.SetpointDescriptor{
			{Name: "voltage", Unit: "V", Min: 0, Max: 30},
			{Name: "current", Unit: "A", Min: 0, Max: 5},
		},
		Measurements: []model.MeasurementDescriptor{
			{Name: "voltage", Unit: "V"},
			{Name: "current", Unit: "A"},
		},
	}
}

func (d *fakeDriver) Describe(ctx context.Context) (ports.Identity, error) {
	return ports.Identity{
		Info: model.DeviceInfo{
			ID: "fake-1", Manufacturer: "Fake", Model: "PSU-1",
			Type: model.TypePowerSupply,
		},
		Capabilities: d.caps(),
	}, nil
}

func (d *fakeDriver) ReadStatus(ctx context.Context) (model.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusCalls++
	if d.failStatus {
		return model.Status{}, errors.New("read failed")
	}
	return model.Status{
		Mode:          d.mode,
		OutputEnabled: d.output,
		Measurements:  map[string]float64{"voltage": 12.0, "current": 1.5, "ghost": 9},
	}, nil
}

func (d *fakeDriver) SetMode(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCalls++
	if d.failSet {
		return errors.New("set failed")
	}
	d.mode = name
	return nil
}

func (d *fakeDriver) SetOutput(ctx context.Context, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCalls++
	if d.failSet {
		return errors.New("set failed")
	}
	d.output = enabled
	return nil
}

func (d *fakeDriver) SetValue(ctx context.Context, name string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCalls++
	if d.failSet {
		return errors.New("set failed")
	}
	d.setpoints[name] = value
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) setFailStatus(v bool) {
	d.mu.Lock()
	d.failStatus = v
	d.mu.Unlock()
}

func (d *fakeDriver) setFailSet(v bool) {
	d.mu.Lock()
	d.failSet = v
	d.mu.Unlock()
}

func startSession(t *testing.T, drv ports.Driver, cfg Config) *Session {
	t.Helper()
	s := New("fake-1", drv, bus.New(0), cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestStartConnects(t *testing.T) {
	s := startSession(t, newFakeDriver(), Config{PollInterval: time.Hour})
	assert.Equal(t, model.StatusConnected, s.ConnectionStatus())
	assert.Equal(t, "PSU-1", s.Info().Model)
	assert.True(t, s.Capabilities().ModesSettable)
}

func TestPollUpdatesMeasurementsOnly(t *testing.T) {
	drv := newFakeDriver()
	s := startSession(t, drv, Config{PollInterval: 10 * time.Millisecond})

	require.NoError(t, s.SetMode(context.Background(), "CC"))
	require.NoError(t, s.SetValue(context.Background(), "voltage", 5, false))

	waitFor(t, time.Second, func() bool {
		return len(s.State().Measurements) > 0
	})

	st := s.State()
	assert.Equal(t, 12.0, st.Measurements["voltage"])
	assert.Equal(t, 1.5, st.Measurements["current"])
	// Values outside the capability set are discarded.
	_, ok := st.Measurements["ghost"]
	assert.False(t, ok)
	// The write path stays authoritative for mode and setpoints.
	assert.Equal(t, "CC", st.Mode)
	assert.Equal(t, 5.0, st.Setpoints["voltage"])
	assert.NotEmpty(t, st.History.Timestamps)
	// History only carries declared series.
	assert.Contains(t, st.History.Series, "voltage")
	_, ok = st.History.Series["ghost"]
	assert.False(t, ok)
}

func TestSetValuePreconditions(t *testing.T) {
	s := startSession(t, newFakeDriver(), Config{PollInterval: time.Hour})

	err := s.SetValue(context.Background(), "resistance", 1, false)
	assert.True(t, fault.IsKind(err, fault.KindPrecondition))

	err = s.SetValue(context.Background(), "voltage", 31, false)
	assert.True(t, fault.IsKind(err, fault.KindPrecondition))

	err = s.SetMode(context.Background(), "CR")
	assert.True(t, fault.IsKind(err, fault.KindPrecondition))
}

func TestSetValueOptimisticRevert(t *testing.T) {
	drv := newFakeDriver()
	s := startSession(t, drv, Config{PollInterval: time.Hour})

	require.NoError(t, s.SetValue(context.Background(), "voltage", 10, false))
	assert.Equal(t, 10.0, s.State().Setpoints["voltage"])

	drv.setFailSet(true)
	err := s.SetValue(context.Background(), "voltage", 20, false)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindTransport))
	assert.Equal(t, 10.0, s.State().Setpoints["voltage"], "failed write reverts")
}

func TestSetModeOptimisticRevert(t *testing.T) {
	drv := newFakeDriver()
	s := startSession(t, drv, Config{PollInterval: time.Hour})

	require.NoError(t, s.SetMode(context.Background(), "CV"))
	drv.setFailSet(true)
	require.Error(t, s.SetMode(context.Background(), "CC"))
	assert.Equal(t, "CV", s.State().Mode)
}

func TestErrorStateAfterConsecutiveFailures(t *testing.T) {
	drv := newFakeDriver()
	s := startSession(t, drv, Config{PollInterval: 5 * time.Millisecond})
	drv.setFailStatus(true)

	waitFor(t, 5*time.Second, func() bool {
		return s.ConnectionStatus() == model.StatusError
	})
	assert.GreaterOrEqual(t, s.State().ConsecutiveErrors, MaxConsecutiveErrors)
}

func TestReconnectRecoversErrorState(t *testing.T) {
	drv := newFakeDriver()
	s := startSession(t, drv, Config{PollInterval: 5 * time.Millisecond})
	drv.setFailStatus(true)
	waitFor(t, 5*time.Second, func() bool {
		return s.ConnectionStatus() == model.StatusError
	})

	// The probe still fails: the session stays parked.
	err := s.Reconnect(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.StatusError, s.ConnectionStatus())

	drv.setFailStatus(false)
	require.NoError(t, s.Reconnect(context.Background()))
	assert.Equal(t, model.StatusConnected, s.ConnectionStatus())

	// Polling resumes after recovery.
	drv.mu.Lock()
	calls := drv.statusCalls
	drv.mu.Unlock()
	waitFor(t, 3*time.Second, func() bool {
		drv.mu.Lock()
		defer drv.mu.Unlock()
		return drv.statusCalls > calls
	})
}

func TestSuccessResetsErrorCounter(t *testing.T) {
	drv := newFakeDriver()
	s := startSession(t, drv, Config{PollInterval: 5 * time.Millisecond})

	drv.setFailStatus(true)
	waitFor(t, time.Second, func() bool {
		return s.State().ConsecutiveErrors >= 1
	})
	drv.setFailStatus(false)
	waitFor(t, 5*time.Second, func() bool {
		return s.State().ConsecutiveErrors == 0
	})
	assert.Equal(t, model.StatusConnected, s.ConnectionStatus())
}

func TestDispatchRejectsWhenStopped(t *testing.T) {
	drv := newFakeDriver()
	s := New("fake-1", drv, bus.New(0), Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	err := s.SetOutput(context.Background(), true)
	assert.True(t, fault.IsKind(err, fault.KindState))
	assert.True(t, drv.closed)
}

func TestStopIdempotent(t *testing.T) {
	s := New("fake-1", newFakeDriver(), bus.New(0), Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
	assert.Equal(t, model.StatusDisconnected, s.ConnectionStatus())
}

func TestDoSerializesDriverAccess(t *testing.T) {
	drv := newFakeDriver()
	s := startSession(t, drv, Config{PollInterval: time.Hour})

	var inFlight, maxInFlight int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), "probe", time.Second, func(ctx context.Context, d ports.Driver) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight, "driver access is serialized")
}

func TestSubscribePushesState(t *testing.T) {
	b := bus.New(0)
	s := New("fake-1", newFakeDriver(), b, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	c := b.Attach("client-1")
	cancel := s.Subscribe("client-1")
	defer cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), time.Second)
	defer ctxCancel()
	msg, ok := c.Next(ctx)
	require.True(t, ok)
	sub, ok := msg.(bus.Subscribed)
	require.True(t, ok)
	assert.Equal(t, "fake-1", sub.DeviceID)
	assert.Equal(t, model.StatusConnected, sub.State.ConnectionStatus)
}

func TestHistoryWindowClamped(t *testing.T) {
	cfg := Config{HistoryWindow: time.Second}.withDefaults()
	assert.Equal(t, MinHistoryWindow, cfg.HistoryWindow)

	cfg = Config{HistoryWindow: time.Hour}.withDefaults()
	assert.Equal(t, MaxHistoryWindow, cfg.HistoryWindow)
}
