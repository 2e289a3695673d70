// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package runtime evaluates one trigger script against wall-clock time and
// the live measurement stream.
//
// All evaluation and action dispatch happen on a single goroutine: one
// measurement update or tick is processed to completion before the next is
// taken. Value conditions fire on the rising edge of their predicate;
// debounce suppresses (never queues) candidate fires inside the window.
package runtime

import (
	"context"
	"time"

	"github.com/ManuGH/labctl/internal/bus"
	devmanager "github.com/ManuGH/labctl/internal/device/manager"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	"github.com/ManuGH/labctl/internal/metrics"
	seqmanager "github.com/ManuGH/labctl/internal/sequence/manager"
	"github.com/ManuGH/labctl/internal/trigger/model"
)

const (
	// tickInterval drives time-based condition evaluation.
	tickInterval = 100 * time.Millisecond
	// progressEvery throttles triggerScriptProgress emissions.
	progressEvery = time.Second
	// actionTimeout bounds one dispatched action.
	actionTimeout = 5 * time.Second
)

type ctrlKind int

const (
	ctrlPause ctrlKind = iota
	ctrlResume
	ctrlStop
)

type ctrlReq struct {
	kind ctrlKind
	done chan error
}

// triggerState is the runtime bookkeeping of one trigger.
type triggerState struct {
	firedCount   int
	lastFiredAt  *time.Time
	conditionMet bool
}

// Runtime executes one script. At most one instance is alive per
// TriggerScriptManager.
type Runtime struct {
	script    model.TriggerScript
	devices   *devmanager.Manager
	sequences *seqmanager.Manager
	bus       *bus.Bus
	now       func() time.Time

	clientID string
	ctrl     chan ctrlReq
	done     chan struct{}
	cancel   context.CancelFunc

	// owned by the run goroutine
	states    map[string]*triggerState
	latest    map[string]map[string]float64 // deviceID -> parameter -> value
	startedAt time.Time
	pausedAt  time.Time
	pauseElap time.Duration
	paused    bool

	stateSnap chan model.TriggerScriptState
	terminal  model.TriggerScriptState
}

// New prepares a runtime in the idle state.
func New(script model.TriggerScript, devices *devmanager.Manager, sequences *seqmanager.Manager, b *bus.Bus) (*Runtime, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{
		script:    script,
		devices:   devices,
		sequences: sequences,
		bus:       b,
		now:       time.Now,
		clientID:  "trigger-runtime:" + script.ID,
		ctrl:      make(chan ctrlReq),
		done:      make(chan struct{}),
		states:    make(map[string]*triggerState, len(script.Triggers)),
		latest:    make(map[string]map[string]float64),
		stateSnap: make(chan model.TriggerScriptState),
	}, nil
}

// Start resets per-trigger state, subscribes to the measurement streams of
// every referenced device and begins evaluation.
func (r *Runtime) Start(ctx context.Context) error {
	const op = "trigger.start"

	for _, t := range r.script.Triggers {
		r.states[t.ID] = &triggerState{}
	}

	client := r.bus.Attach(r.clientID)
	for _, dev := range r.referencedDevices() {
		if _, ok := r.devices.Session(dev); !ok {
			r.bus.Detach(r.clientID)
			return fault.Newf(fault.KindNotFound, op, "unknown device %q", dev)
		}
		r.bus.SubscribeDevice(r.clientID, dev)
	}

	r.startedAt = r.now()
	started := r.snapshot(model.ExecRunning, "")

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(runCtx, client)

	r.bus.Publish(bus.NewTriggerScriptStarted(started))
	log.WithComponent("trigger").Info().
		Str(log.FieldScriptID, r.script.ID).
		Int("triggers", len(r.script.Triggers)).
		Msg("trigger script started")
	return nil
}

// Stop cancels evaluation and emits triggerScriptStopped.
func (r *Runtime) Stop() error { return r.request(ctrlStop) }

// Pause suspends evaluation without resetting counters.
func (r *Runtime) Pause() error { return r.request(ctrlPause) }

// Resume continues evaluation.
func (r *Runtime) Resume() error { return r.request(ctrlResume) }

// Done is closed once the runtime has terminated.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// State reports a snapshot of the script execution state.
func (r *Runtime) State() model.TriggerScriptState {
	select {
	case s := <-r.stateSnap:
		return s
	case <-r.done:
		return r.terminal
	}
}

func (r *Runtime) request(kind ctrlKind) error {
	req := ctrlReq{kind: kind, done: make(chan error, 1)}
	select {
	case r.ctrl <- req:
		return <-req.done
	case <-r.done:
		return fault.New(fault.KindState, "trigger.control", "script is not active")
	}
}

// referencedDevices lists every device named by a value condition.
func (r *Runtime) referencedDevices() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range r.script.Triggers {
		if t.Condition.Type != model.CondValue {
			continue
		}
		if _, ok := seen[t.Condition.DeviceID]; ok {
			continue
		}
		seen[t.Condition.DeviceID] = struct{}{}
		out = append(out, t.Condition.DeviceID)
	}
	return out
}

func (r *Runtime) run(ctx context.Context, client *bus.Client) {
	defer r.cancel()
	defer r.bus.Detach(r.clientID)

	// The pump keeps Next off the evaluation goroutine so ticks and
	// control requests stay responsive.
	msgs := make(chan bus.Message)
	go func() {
		defer close(msgs)
		for {
			msg, ok := client.Next(ctx)
			if !ok {
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	lastProgress := r.now()

	finish := func(exec model.ExecutionState, errStr string) {
		r.terminal = r.snapshot(exec, errStr)
		close(r.done)
	}

	for {
		exec := model.ExecRunning
		if r.paused {
			exec = model.ExecPaused
		}

		select {
		case <-ctx.Done():
			finish(model.ExecIdle, "")
			return
		case r.stateSnap <- r.snapshot(exec, ""):
		case req := <-r.ctrl:
			switch req.kind {
			case ctrlStop:
				req.done <- nil
				r.bus.Publish(bus.NewTriggerScriptStopped(r.script.ID))
				log.WithComponent("trigger").Info().
					Str(log.FieldScriptID, r.script.ID).
					Msg("trigger script stopped")
				finish(model.ExecIdle, "")
				return
			case ctrlPause:
				if r.paused {
					req.done <- fault.New(fault.KindState, "trigger.pause", "script already paused")
					continue
				}
				r.paused = true
				r.pausedAt = r.now()
				req.done <- nil
				r.bus.Publish(bus.NewTriggerScriptPaused(r.script.ID))
			case ctrlResume:
				if !r.paused {
					req.done <- fault.New(fault.KindState, "trigger.resume", "script is not paused")
					continue
				}
				r.pauseElap += r.now().Sub(r.pausedAt)
				r.paused = false
				req.done <- nil
				r.bus.Publish(bus.NewTriggerScriptResumed(r.script.ID))
			}
		case msg, ok := <-msgs:
			if !ok {
				finish(model.ExecIdle, "")
				return
			}
			m, isMeasurement := msg.(bus.Measurement)
			if !isMeasurement {
				continue
			}
			r.noteMeasurement(m)
			if !r.paused {
				r.evaluate(ctx)
			}
		case <-ticker.C:
			if r.paused {
				continue
			}
			r.evaluate(ctx)
			if now := r.now(); now.Sub(lastProgress) >= progressEvery {
				lastProgress = now
				r.bus.Publish(bus.NewTriggerScriptProgress(r.snapshot(model.ExecRunning, "")))
			}
		}
	}
}

func (r *Runtime) noteMeasurement(m bus.Measurement) {
	values, ok := r.latest[m.DeviceID]
	if !ok {
		values = make(map[string]float64)
		r.latest[m.DeviceID] = values
	}
	for k, v := range m.Update.Measurements {
		values[k] = v
	}
}

// evaluate runs one pass over the triggers in script order.
func (r *Runtime) evaluate(ctx context.Context) {
	elapsed := r.elapsed()
	for _, t := range r.script.Triggers {
		st := r.states[t.ID]
		fire := false

		switch t.Condition.Type {
		case model.CondTime:
			threshold := time.Duration(t.Condition.Seconds * float64(time.Second))
			met := elapsed >= threshold
			if met {
				if st.lastFiredAt == nil {
					fire = true
				} else if t.RepeatMode == model.RepeatRepeat {
					// Re-arms after the period has again elapsed.
					fire = r.now().Sub(*st.lastFiredAt) >= threshold
				}
			}
			st.conditionMet = met
		case model.CondValue:
			sample, ok := r.latest[t.Condition.DeviceID][t.Condition.Parameter]
			if !ok {
				continue
			}
			met := t.Condition.Operator.Compare(sample, t.Condition.Value)
			fire = met && !st.conditionMet
			st.conditionMet = met
		}

		if !fire {
			continue
		}
		if t.RepeatMode == model.RepeatOnce && st.firedCount > 0 {
			continue
		}
		if st.lastFiredAt != nil && t.DebounceMs > 0 {
			window := time.Duration(t.DebounceMs) * time.Millisecond
			if r.now().Sub(*st.lastFiredAt) < window {
				continue
			}
		}

		now := r.now()
		st.firedCount++
		st.lastFiredAt = &now
		metrics.IncTriggerFire(string(t.Condition.Type))
		r.bus.Publish(bus.NewTriggerFired(r.script.ID, t.ID, r.exportState(t.ID)))

		// Action failures are observability, not flow control.
		if err := r.dispatch(ctx, t.Action); err != nil {
			metrics.TriggerActionFailuresTotal.WithLabelValues(string(t.Action.Type)).Inc()
			r.bus.Publish(bus.NewTriggerActionFailed(r.script.ID, t.ID, string(t.Action.Type), err.Error()))
			log.WithComponent("trigger").Warn().
				Str(log.FieldScriptID, r.script.ID).
				Str(log.FieldTriggerID, t.ID).
				Err(err).
				Msg("trigger action failed")
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, a model.Action) error {
	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	switch a.Type {
	case model.ActSetValue, model.ActSetOutput, model.ActSetMode:
		sess, ok := r.devices.Session(a.DeviceID)
		if !ok {
			return fault.Newf(fault.KindNotFound, "trigger.action", "unknown device %q", a.DeviceID)
		}
		switch a.Type {
		case model.ActSetValue:
			return sess.SetValue(actx, a.Parameter, a.Value, true)
		case model.ActSetOutput:
			return sess.SetOutput(actx, a.Enabled)
		default:
			return sess.SetMode(actx, a.Mode)
		}
	case model.ActStartSequence:
		_, err := r.sequences.Run(actx, *a.Run)
		return err
	case model.ActStopSequence:
		return r.sequences.Abort()
	case model.ActPauseSequence:
		return r.sequences.Pause()
	default:
		return fault.Newf(fault.KindPrecondition, "trigger.action", "unknown action type %q", a.Type)
	}
}

func (r *Runtime) elapsed() time.Duration {
	ref := r.now()
	if r.paused {
		ref = r.pausedAt
	}
	e := ref.Sub(r.startedAt) - r.pauseElap
	if e < 0 {
		e = 0
	}
	return e
}

func (r *Runtime) exportState(triggerID string) model.TriggerState {
	st := r.states[triggerID]
	out := model.TriggerState{
		TriggerID:    triggerID,
		FiredCount:   st.firedCount,
		ConditionMet: st.conditionMet,
	}
	if st.lastFiredAt != nil {
		t := *st.lastFiredAt
		out.LastFiredAt = &t
	}
	return out
}

func (r *Runtime) snapshot(exec model.ExecutionState, errStr string) model.TriggerScriptState {
	states := make([]model.TriggerState, 0, len(r.script.Triggers))
	for _, t := range r.script.Triggers {
		if _, ok := r.states[t.ID]; ok {
			states = append(states, r.exportState(t.ID))
		}
	}
	return model.TriggerScriptState{
		ScriptID:       r.script.ID,
		ExecutionState: exec,
		StartedAt:      r.startedAt,
		ElapsedMs:      r.elapsed().Milliseconds(),
		TriggerStates:  states,
		Error:          errStr,
	}
}
