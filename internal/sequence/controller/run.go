// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	"github.com/ManuGH/labctl/internal/metrics"
	"github.com/ManuGH/labctl/internal/sequence/model"
	"github.com/ManuGH/labctl/internal/sequence/waveform"
)

// materialize builds the modifier-applied step list for one cycle. seed only
// matters for random walks.
func (c *Controller) materialize(seed float64) []model.Step {
	var steps []model.Step
	if c.def.Waveform.Type == model.WaveRandom {
		steps = waveform.Random(c.def.Waveform, seed, c.rng)
	} else {
		steps = waveform.Generate(c.def.Waveform)
	}
	return c.mods.ApplySteps(steps)
}

// buildSchedule computes absolute fire times for the current cycle starting
// at start. Absolute timestamps keep dwell jitter from accumulating.
func (c *Controller) buildSchedule(start time.Time) {
	c.schedule = make([]time.Time, len(c.steps))
	c.schedule[0] = start
	for i := 0; i < len(c.steps)-1; i++ {
		c.schedule[i+1] = c.schedule[i].Add(dwellOf(c.steps[i]))
	}
	c.stepIndex = 0
}

func dwellOf(s model.Step) time.Duration {
	ms := s.DwellMs
	if ms < model.MinIntervalMs {
		ms = model.MinIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Controller) run(ctx context.Context) {
	defer c.cancel()

	timer := time.NewTimer(0) // first step fires immediately
	defer timer.Stop()
	paused := false

	finish := func(exec model.ExecutionState, errStr string) {
		c.terminal = c.snapshot(exec, errStr)
		close(c.done)
	}

	for {
		if paused {
			select {
			case <-ctx.Done():
				finish(model.ExecIdle, "")
				return
			case c.stateSnap <- c.snapshot(model.ExecPaused, ""):
			case req := <-c.ctrl:
				switch req.kind {
				case ctrlResume:
					now := c.now()
					shift := now.Sub(c.pausedAt)
					c.pauseElap += shift
					for i := c.stepIndex; i < len(c.schedule); i++ {
						c.schedule[i] = c.schedule[i].Add(shift)
					}
					paused = false
					timer.Reset(model.MinIntervalMs * time.Millisecond)
					req.done <- nil
				case ctrlAbort:
					req.done <- nil
					c.abortNow(ctx)
					finish(model.ExecIdle, "")
					return
				default:
					req.done <- errNotRunning("pause")
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			finish(model.ExecIdle, "")
			return
		case c.stateSnap <- c.snapshot(model.ExecRunning, ""):
		case req := <-c.ctrl:
			switch req.kind {
			case ctrlPause:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				c.pausedAt = c.now()
				paused = true
				req.done <- nil
			case ctrlAbort:
				req.done <- nil
				c.abortNow(ctx)
				finish(model.ExecIdle, "")
				return
			default:
				req.done <- errNotRunning("resume")
			}
		case <-timer.C:
			done, exec, errStr := c.fire(ctx, timer)
			if done {
				finish(exec, errStr)
				return
			}
		}
	}
}

// fire executes the due step and schedules the next one. Returns done=true
// with the terminal state when playback ends.
func (c *Controller) fire(ctx context.Context, timer *time.Timer) (bool, model.ExecutionState, string) {
	now := c.now()

	// Behind schedule by more than a full dwell: drop frames so cycle
	// timing is preserved. The cycle's last step always executes.
	for c.stepIndex < len(c.steps)-1 &&
		now.After(c.schedule[c.stepIndex].Add(dwellOf(c.steps[c.stepIndex]))) {
		c.stepIndex++
		metrics.IncSequenceStep("dropped")
	}

	step := c.steps[c.stepIndex]
	value := c.slewLimit(step)

	if err := c.session.SetValue(ctx, c.cfg.Parameter, value, true); err != nil {
		metrics.IncSequenceStep("error")
		metrics.SequenceRunsTotal.WithLabelValues("error").Inc()
		msg := fmt.Sprintf("step %d: %v", c.stepIndex, err)
		c.publish(bus.NewSequenceError(c.cfg.SequenceID, msg))
		log.WithComponent("sequence").Error().
			Str(log.FieldSequenceID, c.cfg.SequenceID).
			Int("step", c.stepIndex).
			Err(err).
			Msg("sequence failed")
		return true, model.ExecError, msg
	}
	c.commanded = value
	metrics.IncSequenceStep("ok")
	c.publish(bus.NewSequenceProgress(c.snapshot(model.ExecRunning, "")))

	c.stepIndex++
	if c.stepIndex >= len(c.steps) {
		lastDwell := dwellOf(c.steps[len(c.steps)-1])
		c.cycle++
		if c.totalCycles != nil && c.cycle >= *c.totalCycles {
			c.applyPostValue(ctx)
			metrics.SequenceRunsTotal.WithLabelValues("completed").Inc()
			c.publish(bus.NewSequenceCompleted(c.cfg.SequenceID))
			log.WithComponent("sequence").Info().
				Str(log.FieldSequenceID, c.cfg.SequenceID).
				Int("cycles", c.cycle).
				Msg("sequence completed")
			return true, model.ExecCompleted, ""
		}
		if c.def.Waveform.Type == model.WaveRandom {
			// Walk continues from the last commanded value.
			c.steps = c.materialize(c.commanded)
		}
		c.buildSchedule(c.now().Add(lastDwell))
	}

	wait := c.schedule[c.stepIndex].Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
	return false, model.ExecRunning, ""
}

// slewLimit bounds the commanded change against the previous commanded
// value using the step's own dwell as the time base.
func (c *Controller) slewLimit(step model.Step) float64 {
	if c.def.MaxSlewRate == nil {
		return step.Value
	}
	maxDelta := *c.def.MaxSlewRate * dwellOf(step).Seconds()
	delta := step.Value - c.commanded
	if delta > maxDelta {
		return c.commanded + maxDelta
	}
	if delta < -maxDelta {
		return c.commanded - maxDelta
	}
	return step.Value
}

func (c *Controller) abortNow(ctx context.Context) {
	c.applyPostValue(ctx)
	metrics.SequenceRunsTotal.WithLabelValues("aborted").Inc()
	c.publish(bus.NewSequenceAborted(c.cfg.SequenceID))
	log.WithComponent("sequence").Info().
		Str(log.FieldSequenceID, c.cfg.SequenceID).
		Msg("sequence aborted")
}

func (c *Controller) applyPostValue(ctx context.Context) {
	if c.def.PostValue == nil {
		return
	}
	v := c.mods.Apply(*c.def.PostValue)
	if err := c.session.SetValue(ctx, c.cfg.Parameter, v, true); err != nil {
		log.WithComponent("sequence").Warn().
			Str(log.FieldSequenceID, c.cfg.SequenceID).
			Err(err).
			Msg("postValue apply failed")
		return
	}
	c.commanded = v
}

func (c *Controller) snapshot(exec model.ExecutionState, errStr string) model.SequenceState {
	ref := c.now()
	if exec == model.ExecPaused {
		ref = c.pausedAt
	}
	elapsed := ref.Sub(c.startedAt) - c.pauseElap
	if elapsed < 0 {
		elapsed = 0
	}
	return model.SequenceState{
		SequenceID:       c.cfg.SequenceID,
		RunConfig:        c.cfg,
		ExecutionState:   exec,
		CurrentStepIndex: c.stepIndex,
		TotalSteps:       len(c.steps),
		CurrentCycle:     c.cycle,
		TotalCycles:      c.totalCycles,
		StartedAt:        c.startedAt,
		ElapsedMs:        elapsed.Milliseconds(),
		CommandedValue:   c.commanded,
		Error:            errStr,
	}
}

func errNotRunning(want string) error {
	return fault.Newf(fault.KindState, "sequence.control", "controller does not accept %s in its current state", want)
}
