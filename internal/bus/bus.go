// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus implements the typed fan-out of server-push messages to
// connected clients. Device-scoped messages are delivered only to clients
// holding a subscription for that device; global messages go to everyone.
//
// Each client owns a bounded send queue. When the queue exceeds the
// watermark, the oldest droppable message (measurements) is shed first;
// field updates, errors and terminal sequence/trigger events are never
// dropped.
package bus

import (
	"context"
	"sync"

	"github.com/ManuGH/labctl/internal/log"
	"github.com/ManuGH/labctl/internal/metrics"
)

// DefaultWatermark is the per-client queue high-water mark.
const DefaultWatermark = 256

// Bus is the process-wide subscription bus.
type Bus struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	watermark int
}

// New creates a bus. watermark <= 0 selects DefaultWatermark.
func New(watermark int) *Bus {
	if watermark <= 0 {
		watermark = DefaultWatermark
	}
	return &Bus{
		clients:   make(map[string]*Client),
		watermark: watermark,
	}
}

// Attach registers a client connection and returns its receive handle.
// Attaching an existing ID replaces the previous connection.
func (b *Bus) Attach(clientID string) *Client {
	c := &Client{
		id:        clientID,
		watermark: b.watermark,
		devices:   make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
	}
	b.mu.Lock()
	old := b.clients[clientID]
	b.clients[clientID] = c
	b.mu.Unlock()
	if old != nil {
		old.close()
	}
	return c
}

// Detach removes a client and cancels its device subscriptions.
func (b *Bus) Detach(clientID string) {
	b.mu.Lock()
	c, ok := b.clients[clientID]
	if ok {
		delete(b.clients, clientID)
	}
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

// SubscribeDevice marks the client as a receiver of device-scoped messages
// for deviceID. Idempotent.
func (b *Bus) SubscribeDevice(clientID, deviceID string) bool {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	c.devices[deviceID] = struct{}{}
	c.mu.Unlock()
	return true
}

// UnsubscribeDevice drops the client's device-scoped subscription.
func (b *Bus) UnsubscribeDevice(clientID, deviceID string) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.devices, deviceID)
	c.mu.Unlock()
}

// Publish fans the message out. A snapshot of the client set is taken first
// so subscriber mutation during delivery cannot invalidate iteration.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	scope := msg.DeviceScope()
	for _, c := range targets {
		c.deliver(msg, scope)
	}
}

// PublishTo sends a message to exactly one client, regardless of scope.
func (b *Bus) PublishTo(clientID string, msg Message) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if ok {
		c.deliver(msg, "")
	}
}

// Clients returns the number of attached clients.
func (b *Bus) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Client is one attached connection's receive handle. Next blocks until a
// message is queued or the client is detached.
type Client struct {
	id        string
	watermark int

	mu      sync.Mutex
	queue   []Message
	devices map[string]struct{}
	closed  bool
	wake    chan struct{}
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) deliver(msg Message, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if scope != "" {
		if _, ok := c.devices[scope]; !ok {
			return
		}
	}

	if len(c.queue) >= c.watermark {
		if !c.shedLocked() {
			if msg.Droppable() {
				metrics.IncBusDrop(msg.MessageType())
				return
			}
			// Critical message on a full queue of critical messages: exceed
			// the watermark rather than lose it.
			log.L().Warn().Str(log.FieldClientID, c.id).
				Int("depth", len(c.queue)).
				Msg("client queue above watermark with no droppable messages")
		}
	}

	c.queue = append(c.queue, msg)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// shedLocked removes the oldest droppable message. Must hold mu.
func (c *Client) shedLocked() bool {
	for i, m := range c.queue {
		if m.Droppable() {
			metrics.IncBusDrop(m.MessageType())
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Next returns the next queued message. It blocks until one is available,
// the context is cancelled, or the client is detached (ok == false).
func (c *Client) Next(ctx context.Context) (Message, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, true
		}
		if c.closed {
			c.mu.Unlock()
			return nil, false
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-c.wake:
		}
	}
}

// Depth returns the current queue depth.
func (c *Client) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// close marks the client closed and wakes any blocked reader.
func (c *Client) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
