// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package manager owns every device session. It reconciles the session set
// against the enumerator on demand and broadcasts the device list whenever
// the set or a session's health changes.
package manager

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/device/model"
	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/device/session"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
)

// Manager reconciles device sessions against discovery.
type Manager struct {
	enum ports.Enumerator
	bus  *bus.Bus
	cfg  session.Config

	mu       sync.Mutex
	sessions map[string]*session.Session
	stopped  bool
}

// New creates a manager. Call SyncDevices to populate it.
func New(enum ports.Enumerator, b *bus.Bus, cfg session.Config) *Manager {
	return &Manager{
		enum:     enum,
		bus:      b,
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
	}
}

// SyncDevices reconciles sessions with the enumerator: new devices get a
// session, vanished devices are torn down, surviving sessions are kept
// untouched. Emits deviceList when the set changes.
func (m *Manager) SyncDevices(ctx context.Context) error {
	const op = "manager.syncDevices"

	ids, err := m.enum.Enumerate(ctx)
	if err != nil {
		return fault.Wrap(fault.KindTransport, op, err)
	}
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}

	logger := log.WithComponent("manager")
	changed := false

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fault.New(fault.KindState, op, "manager stopped")
	}
	var removed []*session.Session
	for id, s := range m.sessions {
		if _, ok := present[id]; !ok {
			delete(m.sessions, id)
			removed = append(removed, s)
			changed = true
		}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := m.sessions[id]; !ok {
			missing = append(missing, id)
		}
	}
	m.mu.Unlock()

	for _, s := range removed {
		logger.Info().Str(log.FieldDeviceID, s.DeviceID()).Msg("device removed")
		s.Stop()
	}

	for _, id := range missing {
		drv, err := m.enum.Open(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldDeviceID, id).Msg("open failed")
			continue
		}
		s := session.New(id, drv, m.bus, m.cfg)
		if err := s.Start(ctx); err != nil {
			logger.Warn().Err(err).Str(log.FieldDeviceID, id).Msg("session start failed")
			_ = drv.Close()
			continue
		}

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			s.Stop()
			return fault.New(fault.KindState, op, "manager stopped")
		}
		m.sessions[id] = s
		m.mu.Unlock()
		changed = true
	}

	if changed {
		m.BroadcastDeviceList()
	}
	return nil
}

// Scan is an explicit client-initiated rescan. Always rebroadcasts the
// device list, even when nothing changed, so the requester gets an answer.
func (m *Manager) Scan(ctx context.Context) error {
	if err := m.SyncDevices(ctx); err != nil {
		return err
	}
	m.BroadcastDeviceList()
	return nil
}

// Session returns the session for deviceID.
func (m *Manager) Session(deviceID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Sessions returns a snapshot of all sessions.
func (m *Manager) Sessions() []*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Summaries lists every device with its health, sorted by ID for stable
// client rendering.
func (m *Manager) Summaries() []model.Summary {
	sessions := m.Sessions()
	out := make([]model.Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, model.Summary{
			Info:             s.Info(),
			ConnectionStatus: s.ConnectionStatus(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out
}

// BroadcastDeviceList pushes the current device list to every client.
func (m *Manager) BroadcastDeviceList() {
	m.bus.Publish(bus.NewDeviceList(m.Summaries()))
}

// SendDeviceList pushes the current device list to one client.
func (m *Manager) SendDeviceList(clientID string) {
	m.bus.PublishTo(clientID, bus.NewDeviceList(m.Summaries()))
}

// Stop tears down every session. The manager is unusable afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = map[string]*session.Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	log.WithComponent("manager").Info().Int("sessions", len(sessions)).Msg("all sessions stopped")
}
