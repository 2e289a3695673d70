// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindState, KindOf(New(KindState, "op", "busy")))
	assert.Equal(t, KindTransport, KindOf(context.Canceled))
	assert.Equal(t, KindTransport, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindProtocol, KindOf(errors.New("garbage")))
}

func TestWrapPreservesInnerKind(t *testing.T) {
	inner := New(KindNotFound, "library.get", "unknown id")
	outer := Wrap(KindPersistence, "manager.run", inner)
	assert.Equal(t, KindNotFound, KindOf(outer), "innermost classification wins")
	assert.True(t, errors.Is(outer, inner))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(KindTransport, "op", nil))
}

func TestWrapThroughFmtErrorf(t *testing.T) {
	base := New(KindPrecondition, "session.setValue", "out of range")
	wrapped := fmt.Errorf("request failed: %w", base)
	assert.Equal(t, KindPrecondition, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindPrecondition))
}

func TestErrorStrings(t *testing.T) {
	e := New(KindState, "session.dispatch", "not connected")
	assert.Equal(t, "session.dispatch: not connected", e.Error())

	cause := errors.New("broken pipe")
	w := Wrap(KindTransport, "transport.send", cause)
	require.Contains(t, w.Error(), "transport.send")
	assert.Contains(t, w.Error(), "broken pipe")
}
