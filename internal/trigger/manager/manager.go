// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package manager is the trigger-script façade: durable library CRUD with
// change broadcasts, plus ownership of the single active runtime.
package manager

import (
	"context"
	"sync"

	"github.com/ManuGH/labctl/internal/bus"
	devmanager "github.com/ManuGH/labctl/internal/device/manager"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	seqmanager "github.com/ManuGH/labctl/internal/sequence/manager"
	"github.com/ManuGH/labctl/internal/trigger/model"
	"github.com/ManuGH/labctl/internal/trigger/runtime"
)

// Manager owns the trigger-script library and at most one live runtime.
type Manager struct {
	lib       *Library
	devices   *devmanager.Manager
	sequences *seqmanager.Manager
	bus       *bus.Bus

	mu     sync.Mutex
	active *runtime.Runtime
}

// New wires the façade. The library must already be loaded.
func New(lib *Library, devices *devmanager.Manager, sequences *seqmanager.Manager, b *bus.Bus) *Manager {
	return &Manager{lib: lib, devices: devices, sequences: sequences, bus: b}
}

// List returns all stored scripts.
func (m *Manager) List() []model.TriggerScript { return m.lib.List() }

// Get returns one stored script.
func (m *Manager) Get(id string) (model.TriggerScript, bool) { return m.lib.Get(id) }

// Add stores a new script and broadcasts the change.
func (m *Manager) Add(script model.TriggerScript) (string, error) {
	id, err := m.lib.Add(script)
	if err != nil {
		return "", err
	}
	m.bus.Publish(bus.NewTriggerScriptLibrarySaved(id))
	m.BroadcastLibrary()
	return id, nil
}

// Update replaces a stored script and broadcasts the change.
func (m *Manager) Update(script model.TriggerScript) error {
	if err := m.lib.Update(script); err != nil {
		return err
	}
	m.bus.Publish(bus.NewTriggerScriptLibrarySaved(script.ID))
	m.BroadcastLibrary()
	return nil
}

// Delete removes a stored script and broadcasts the change.
func (m *Manager) Delete(id string) error {
	if err := m.lib.Delete(id); err != nil {
		return err
	}
	m.bus.Publish(bus.NewTriggerScriptLibraryDeleted(id))
	m.BroadcastLibrary()
	return nil
}

// BroadcastLibrary pushes the full library to every client.
func (m *Manager) BroadcastLibrary() {
	m.bus.Publish(bus.NewTriggerScriptLibrary(m.lib.List()))
}

// SendLibrary pushes the full library to one client.
func (m *Manager) SendLibrary(clientID string) {
	m.bus.PublishTo(clientID, bus.NewTriggerScriptLibrary(m.lib.List()))
}

// Run starts a stored script. A running script is stopped first; its
// triggerScriptStopped event precedes the new triggerScriptStarted.
func (m *Manager) Run(ctx context.Context, scriptID string) (model.TriggerScriptState, error) {
	const op = "trigger.run"

	script, ok := m.lib.Get(scriptID)
	if !ok {
		return model.TriggerScriptState{}, fault.Newf(fault.KindNotFound, op, "unknown script %q", scriptID)
	}

	rt, err := runtime.New(script, m.devices, m.sequences, m.bus)
	if err != nil {
		return model.TriggerScriptState{}, err
	}

	m.mu.Lock()
	prev := m.active
	m.mu.Unlock()
	if prev != nil {
		if err := prev.Stop(); err == nil {
			<-prev.Done()
		}
	}

	if err := rt.Start(ctx); err != nil {
		return model.TriggerScriptState{}, err
	}

	m.mu.Lock()
	m.active = rt
	m.mu.Unlock()

	go m.reap(rt)
	return rt.State(), nil
}

func (m *Manager) reap(rt *runtime.Runtime) {
	<-rt.Done()
	m.mu.Lock()
	if m.active == rt {
		m.active = nil
	}
	m.mu.Unlock()
}

// StopScript stops the active runtime.
func (m *Manager) StopScript() error {
	rt, err := m.current("stop")
	if err != nil {
		return err
	}
	if err := rt.Stop(); err != nil {
		return err
	}
	<-rt.Done()
	return nil
}

// Pause suspends the active runtime.
func (m *Manager) Pause() error {
	rt, err := m.current("pause")
	if err != nil {
		return err
	}
	return rt.Pause()
}

// Resume continues the active runtime.
func (m *Manager) Resume() error {
	rt, err := m.current("resume")
	if err != nil {
		return err
	}
	return rt.Resume()
}

// ActiveState reports the live script state, if any.
func (m *Manager) ActiveState() (model.TriggerScriptState, bool) {
	m.mu.Lock()
	rt := m.active
	m.mu.Unlock()
	if rt == nil {
		return model.TriggerScriptState{}, false
	}
	return rt.State(), true
}

// Stop halts any active runtime. Used at daemon shutdown.
func (m *Manager) Stop() {
	if err := m.StopScript(); err == nil {
		log.WithComponent("trigger").Info().Msg("active trigger script stopped on shutdown")
	}
}

func (m *Manager) current(want string) (*runtime.Runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, fault.Newf(fault.KindState, "trigger."+want, "no active script")
	}
	return m.active, nil
}
