// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package manager is the sequence façade: durable library CRUD with change
// broadcasts, plus ownership of the single active playback controller.
package manager

import (
	"context"
	"sync"

	"github.com/ManuGH/labctl/internal/bus"
	devmanager "github.com/ManuGH/labctl/internal/device/manager"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	"github.com/ManuGH/labctl/internal/sequence/controller"
	"github.com/ManuGH/labctl/internal/sequence/library"
	"github.com/ManuGH/labctl/internal/sequence/model"
)

// Manager owns the sequence library and at most one live controller.
type Manager struct {
	lib     *library.Library
	devices *devmanager.Manager
	bus     *bus.Bus

	mu     sync.Mutex
	active *controller.Controller
}

// New wires the façade. The library must already be loaded.
func New(lib *library.Library, devices *devmanager.Manager, b *bus.Bus) *Manager {
	return &Manager{lib: lib, devices: devices, bus: b}
}

// List returns all stored definitions.
func (m *Manager) List() []model.SequenceDefinition { return m.lib.List() }

// Get returns one stored definition.
func (m *Manager) Get(id string) (model.SequenceDefinition, bool) { return m.lib.Get(id) }

// Add stores a new definition and broadcasts the change.
func (m *Manager) Add(def model.SequenceDefinition) (string, error) {
	id, err := m.lib.Add(def)
	if err != nil {
		return "", err
	}
	m.bus.Publish(bus.NewSequenceLibrarySaved(id))
	m.BroadcastLibrary()
	return id, nil
}

// Update replaces a stored definition and broadcasts the change.
func (m *Manager) Update(def model.SequenceDefinition) error {
	if err := m.lib.Update(def); err != nil {
		return err
	}
	m.bus.Publish(bus.NewSequenceLibrarySaved(def.ID))
	m.BroadcastLibrary()
	return nil
}

// Delete removes a stored definition and broadcasts the change.
func (m *Manager) Delete(id string) error {
	if err := m.lib.Delete(id); err != nil {
		return err
	}
	m.bus.Publish(bus.NewSequenceLibraryDeleted(id))
	m.BroadcastLibrary()
	return nil
}

// BroadcastLibrary pushes the full library to every client.
func (m *Manager) BroadcastLibrary() {
	m.bus.Publish(bus.NewSequenceLibrary(m.lib.List()))
}

// SendLibrary pushes the full library to one client.
func (m *Manager) SendLibrary(clientID string) {
	m.bus.PublishTo(clientID, bus.NewSequenceLibrary(m.lib.List()))
}

// Run starts playback of a stored sequence. An already-active controller is
// aborted first; its sequenceAborted event precedes the new sequenceStarted.
func (m *Manager) Run(ctx context.Context, cfg model.RunConfig) (model.SequenceState, error) {
	const op = "sequence.run"

	def, ok := m.lib.Get(cfg.SequenceID)
	if !ok {
		return model.SequenceState{}, fault.Newf(fault.KindNotFound, op, "unknown sequence %q", cfg.SequenceID)
	}
	sess, ok := m.devices.Session(cfg.DeviceID)
	if !ok {
		return model.SequenceState{}, fault.Newf(fault.KindNotFound, op, "unknown device %q", cfg.DeviceID)
	}
	desc, ok := sess.Capabilities().Output(cfg.Parameter)
	if !ok {
		return model.SequenceState{}, fault.Newf(fault.KindPrecondition, op,
			"device %q has no parameter %q", cfg.DeviceID, cfg.Parameter)
	}
	if def.Unit != desc.Unit {
		return model.SequenceState{}, fault.Newf(fault.KindPrecondition, op,
			"sequence unit %q does not match parameter unit %q", def.Unit, desc.Unit)
	}

	ctrl, err := controller.New(def, cfg, sess, m.bus.Publish)
	if err != nil {
		return model.SequenceState{}, err
	}

	m.mu.Lock()
	prev := m.active
	m.mu.Unlock()
	if prev != nil {
		// Preempt: at most one sequence plays at a time.
		if err := prev.Abort(); err == nil {
			<-prev.Done()
		}
	}

	if err := ctrl.Start(ctx); err != nil {
		return model.SequenceState{}, err
	}

	m.mu.Lock()
	m.active = ctrl
	m.mu.Unlock()

	go m.reap(ctrl)
	return ctrl.State(), nil
}

// reap clears the active slot once the controller terminates.
func (m *Manager) reap(ctrl *controller.Controller) {
	<-ctrl.Done()
	m.mu.Lock()
	if m.active == ctrl {
		m.active = nil
	}
	m.mu.Unlock()
}

// Abort stops the active controller.
func (m *Manager) Abort() error {
	ctrl, err := m.current("abort")
	if err != nil {
		return err
	}
	if err := ctrl.Abort(); err != nil {
		return err
	}
	<-ctrl.Done()
	return nil
}

// Pause suspends the active controller.
func (m *Manager) Pause() error {
	ctrl, err := m.current("pause")
	if err != nil {
		return err
	}
	return ctrl.Pause()
}

// Resume continues the active controller.
func (m *Manager) Resume() error {
	ctrl, err := m.current("resume")
	if err != nil {
		return err
	}
	return ctrl.Resume()
}

// ActiveState reports the live playback state, if any.
func (m *Manager) ActiveState() (model.SequenceState, bool) {
	m.mu.Lock()
	ctrl := m.active
	m.mu.Unlock()
	if ctrl == nil {
		return model.SequenceState{}, false
	}
	return ctrl.State(), true
}

// Stop aborts any active playback. Used at daemon shutdown.
func (m *Manager) Stop() {
	if err := m.Abort(); err == nil {
		log.WithComponent("sequence").Info().Msg("active sequence aborted on shutdown")
	}
}

func (m *Manager) current(want string) (*controller.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, fault.Newf(fault.KindState, "sequence."+want, "no active sequence")
	}
	return m.active, nil
}
