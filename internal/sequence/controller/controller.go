// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package controller plays one sequence against one device parameter.
//
// The schedule is a vector of absolute monotonic timestamps built once per
// cycle, so dwell jitter never accumulates into drift. A single goroutine
// owns all playback state and waits on one pending timer at a time; pause,
// resume and abort are requests handed to that goroutine.
package controller

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	"github.com/ManuGH/labctl/internal/sequence/model"
	"github.com/ManuGH/labctl/internal/sequence/waveform"
)

// Setter is the slice of the device session the controller drives.
type Setter interface {
	SetValue(ctx context.Context, name string, value float64, immediate bool) error
}

type ctrlKind int

const (
	ctrlPause ctrlKind = iota
	ctrlResume
	ctrlAbort
)

type ctrlReq struct {
	kind ctrlKind
	done chan error
}

// Controller owns one playback run.
type Controller struct {
	def     model.SequenceDefinition
	cfg     model.RunConfig
	session Setter
	publish func(bus.Message)
	now     func() time.Time
	rng     *rand.Rand

	mods        waveform.Modifiers
	totalCycles *int

	ctrl   chan ctrlReq
	done   chan struct{}
	cancel context.CancelFunc

	// playback state, owned by the run goroutine; stateSnap mirrors it for
	// readers.
	steps     []model.Step
	schedule  []time.Time
	stepIndex int
	cycle     int
	commanded float64
	startedAt time.Time
	pausedAt  time.Time
	pauseElap time.Duration

	stateSnap chan model.SequenceState
	terminal  model.SequenceState
}

// New validates the binding and prepares a controller in the idle state.
func New(def model.SequenceDefinition, cfg model.RunConfig, s Setter, publish func(bus.Message)) (*Controller, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	total, err := cfg.TotalCycles()
	if err != nil {
		return nil, err
	}
	return &Controller{
		def:         def,
		cfg:         cfg,
		session:     s,
		publish:     publish,
		now:         time.Now,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		mods:        waveform.ModifiersOf(def),
		totalCycles: total,
		ctrl:        make(chan ctrlReq),
		done:        make(chan struct{}),
		stateSnap:   make(chan model.SequenceState),
	}, nil
}

// Start materializes the step list, applies preValue, emits sequenceStarted
// and fires the first step immediately. Only valid once.
func (c *Controller) Start(ctx context.Context) error {
	const op = "sequence.start"

	c.steps = c.materialize(c.def.Waveform.StartValue)
	if len(c.steps) == 0 {
		return fault.New(fault.KindPrecondition, op, "empty step list")
	}

	if c.def.PreValue != nil {
		v := c.mods.Apply(*c.def.PreValue)
		if err := c.session.SetValue(ctx, c.cfg.Parameter, v, true); err != nil {
			return fault.Wrap(fault.KindState, op, err)
		}
		c.commanded = v
	}

	c.startedAt = c.now()
	c.buildSchedule(c.startedAt)

	// Publish before the run goroutine takes ownership of the playback
	// state: sequenceStarted must precede the first sequenceProgress.
	c.publish(bus.NewSequenceStarted(c.snapshot(model.ExecRunning, "")))
	log.WithComponent("sequence").Info().
		Str(log.FieldSequenceID, c.cfg.SequenceID).
		Str(log.FieldDeviceID, c.cfg.DeviceID).
		Str(log.FieldParameter, c.cfg.Parameter).
		Msg("sequence started")

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(runCtx)
	return nil
}

// Pause suspends playback. Running only.
func (c *Controller) Pause() error { return c.request(ctrlPause) }

// Resume continues playback. Paused only.
func (c *Controller) Resume() error { return c.request(ctrlResume) }

// Abort cancels playback, applies postValue and transitions to idle.
func (c *Controller) Abort() error { return c.request(ctrlAbort) }

// Done is closed when the controller reaches a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State reports a snapshot of the playback state. After termination it
// returns the terminal snapshot.
func (c *Controller) State() model.SequenceState {
	select {
	case s := <-c.stateSnap:
		return s
	case <-c.done:
		return c.terminal
	}
}

func (c *Controller) request(kind ctrlKind) error {
	req := ctrlReq{kind: kind, done: make(chan error, 1)}
	select {
	case c.ctrl <- req:
		return <-req.done
	case <-c.done:
		return fault.New(fault.KindState, "sequence.control", "sequence is not active")
	}
}
