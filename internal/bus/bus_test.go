// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToSubscribedClient(t *testing.T) {
	b := New(0)
	c := b.Attach("c1")
	require.True(t, b.SubscribeDevice("c1", "psu-1"))

	b.Publish(NewMeasurement("psu-1", time.Now(), map[string]float64{"voltage": 12}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := c.Next(ctx)
	require.True(t, ok)
	m, ok := msg.(Measurement)
	require.True(t, ok)
	assert.Equal(t, "psu-1", m.DeviceID)
	assert.Equal(t, 12.0, m.Update.Measurements["voltage"])
}

func TestDeviceScopedMessagesSkipUnsubscribed(t *testing.T) {
	b := New(0)
	c := b.Attach("c1")

	b.Publish(NewMeasurement("psu-1", time.Now(), nil))
	assert.Equal(t, 0, c.Depth())

	// Global messages always arrive.
	b.Publish(NewSequenceCompleted("seq-1"))
	assert.Equal(t, 1, c.Depth())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(0)
	c := b.Attach("c1")
	b.SubscribeDevice("c1", "psu-1")
	b.UnsubscribeDevice("c1", "psu-1")

	b.Publish(NewMeasurement("psu-1", time.Now(), nil))
	assert.Equal(t, 0, c.Depth())
}

func TestWatermarkShedsOldestMeasurement(t *testing.T) {
	b := New(4)
	c := b.Attach("c1")
	b.SubscribeDevice("c1", "psu-1")

	for i := 0; i < 4; i++ {
		b.Publish(NewMeasurement("psu-1", time.Unix(int64(i), 0), nil))
	}
	require.Equal(t, 4, c.Depth())

	b.Publish(NewMeasurement("psu-1", time.Unix(99, 0), nil))
	assert.Equal(t, 4, c.Depth(), "queue must not grow past the watermark")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := c.Next(ctx)
	require.True(t, ok)
	first := msg.(Measurement)
	assert.Equal(t, int64(1), first.Update.Timestamp.Unix(), "the oldest sample is shed first")
}

func TestCriticalMessagesNeverShed(t *testing.T) {
	b := New(2)
	c := b.Attach("c1")
	b.SubscribeDevice("c1", "psu-1")

	b.Publish(NewField("psu-1", "mode", "CV"))
	b.Publish(NewError("psu-1", "transport", "boom"))
	// Queue is at the watermark with nothing droppable; a critical message
	// still gets through.
	b.Publish(NewField("psu-1", "outputEnabled", true))
	assert.Equal(t, 3, c.Depth())

	// A droppable message on the same full queue is discarded instead.
	b.Publish(NewMeasurement("psu-1", time.Now(), nil))
	assert.Equal(t, 3, c.Depth())
}

func TestPublishToIgnoresScope(t *testing.T) {
	b := New(0)
	c := b.Attach("c1")

	// No device subscription, yet a directed message arrives.
	b.PublishTo("c1", NewMeasurement("psu-1", time.Now(), nil))
	assert.Equal(t, 1, c.Depth())

	b.PublishTo("ghost", NewError("", "state", "nobody home"))
}

func TestDetachUnblocksReader(t *testing.T) {
	b := New(0)
	c := b.Attach("c1")

	done := make(chan bool, 1)
	go func() {
		_, ok := c.Next(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	b.Detach("c1")

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after detach")
	}
	assert.Equal(t, 0, b.Clients())
}

func TestReattachReplacesClient(t *testing.T) {
	b := New(0)
	old := b.Attach("c1")
	fresh := b.Attach("c1")
	require.NotSame(t, old, fresh)
	assert.Equal(t, 1, b.Clients())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok := old.Next(ctx)
	assert.False(t, ok, "replaced client is closed")
}

func TestNextDrainsQueueAfterClose(t *testing.T) {
	b := New(0)
	c := b.Attach("c1")
	b.Publish(NewSequenceCompleted("seq-1"))
	b.Detach("c1")

	msg, ok := c.Next(context.Background())
	require.True(t, ok, "queued messages drain before close is observed")
	assert.Equal(t, "sequenceCompleted", msg.MessageType())

	_, ok = c.Next(context.Background())
	assert.False(t, ok)
}
