// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/labctl/internal/bus"
	devmanager "github.com/ManuGH/labctl/internal/device/manager"
	"github.com/ManuGH/labctl/internal/device/session"
	"github.com/ManuGH/labctl/internal/device/sim"
	"github.com/ManuGH/labctl/internal/sequence/library"
	seqmanager "github.com/ManuGH/labctl/internal/sequence/manager"
	trgmanager "github.com/ManuGH/labctl/internal/trigger/manager"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	b := bus.New(0)
	devices := devmanager.New(sim.NewEnumerator(), b, session.Config{PollInterval: time.Hour})
	require.NoError(t, devices.SyncDevices(context.Background()))
	t.Cleanup(devices.Stop)

	seqLib := library.New(t.TempDir())
	require.NoError(t, seqLib.Load())
	sequences := seqmanager.New(seqLib, devices, b)
	t.Cleanup(sequences.Stop)

	trgLib := trgmanager.NewLibrary(t.TempDir())
	require.NoError(t, trgLib.Load())
	triggers := trgmanager.New(trgLib, devices, sequences, b)
	t.Cleanup(triggers.Stop)

	srv := New(Config{}, b, devices, sequences, triggers)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHealthAndReadiness(t *testing.T) {
	srv, ts := newTestServer(t)

	var health map[string]string
	code := getJSON(t, ts.URL+"/healthz", &health)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", health["status"])
	assert.NotEmpty(t, health["version"])

	var ready map[string]any
	code = getJSON(t, ts.URL+"/readyz", &ready)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	srv.SetReady()
	code = getJSON(t, ts.URL+"/readyz", &ready)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", ready["status"])
	assert.Equal(t, float64(3), ready["devices"])
}

func TestDeviceListEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var devices []struct {
		Info struct {
			ID string `json:"id"`
		} `json:"info"`
		ConnectionStatus string `json:"connectionStatus"`
	}
	code := getJSON(t, ts.URL+"/api/devices", &devices)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, devices, 3)
	assert.Equal(t, "sim-load-1", devices[0].Info.ID)
	assert.Equal(t, "sim-psu-1", devices[1].Info.ID)
	assert.Equal(t, "sim-scope-1", devices[2].Info.ID)
	assert.Equal(t, "connected", devices[0].ConnectionStatus)
}

func TestDeviceStateNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]string
	code := getJSON(t, ts.URL+"/api/devices/ghost", &body)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["code"])
}

func TestScopeCommandRejectsNonScope(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/devices/sim-psu-1/scope", "application/json",
		strings.NewReader(`{"op":"run"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "precondition", body["code"])
}

func wsDial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilType drains push messages until one of the wanted type arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestWebSocketGetDevices(t *testing.T) {
	_, ts := newTestServer(t)
	conn := wsDial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "getDevices"}))
	msg := readUntilType(t, conn, "deviceList")
	devices, ok := msg["devices"].([]any)
	require.True(t, ok)
	assert.Len(t, devices, 3)
}

func TestWebSocketSubscribePushesState(t *testing.T) {
	_, ts := newTestServer(t)
	conn := wsDial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":     "subscribe",
		"deviceId": "sim-psu-1",
	}))
	msg := readUntilType(t, conn, "subscribed")
	assert.Equal(t, "sim-psu-1", msg["deviceId"])
	state, ok := msg["state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "connected", state["connectionStatus"])
}

func TestWebSocketSequenceLibraryUpdate(t *testing.T) {
	_, ts := newTestServer(t)
	conn := wsDial(t, ts)

	def := map[string]any{
		"name": "ramp-up",
		"unit": "V",
		"waveform": map[string]any{
			"type": "ramp", "min": 0, "max": 5,
			"pointsPerCycle": 4, "intervalMs": 100,
		},
	}
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "sequenceLibrarySave",
		"sequence": def,
	}))
	saved := readUntilType(t, conn, "sequenceLibrarySaved")
	id, ok := saved["sequenceId"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	// The explicit update form carries the assigned ID.
	def["id"] = id
	def["name"] = "ramp-up-v2"
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "sequenceLibraryUpdate",
		"sequence": def,
	}))
	readUntilType(t, conn, "sequenceLibrarySaved")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "sequenceLibraryList"}))
	lib := readUntilType(t, conn, "sequenceLibrary")
	seqs, ok := lib["sequences"].([]any)
	require.True(t, ok)
	require.Len(t, seqs, 1)
	entry, ok := seqs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ramp-up-v2", entry["name"])
}

func TestWebSocketTriggerScriptLibraryUpdate(t *testing.T) {
	_, ts := newTestServer(t)
	conn := wsDial(t, ts)

	script := map[string]any{
		"name": "safety-cutoff",
		"triggers": []map[string]any{{
			"id":         "t1",
			"condition":  map[string]any{"type": "time", "seconds": 10},
			"action":     map[string]any{"type": "setOutput", "deviceId": "sim-psu-1", "enabled": false},
			"repeatMode": "once",
		}},
	}
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "triggerScriptLibrarySave",
		"script": script,
	}))
	saved := readUntilType(t, conn, "triggerScriptLibrarySaved")
	id, ok := saved["scriptId"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	script["id"] = id
	script["name"] = "safety-cutoff-v2"
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":   "triggerScriptLibraryUpdate",
		"script": script,
	}))
	readUntilType(t, conn, "triggerScriptLibrarySaved")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "triggerScriptLibraryList"}))
	lib := readUntilType(t, conn, "triggerScriptLibrary")
	scripts, ok := lib["scripts"].([]any)
	require.True(t, ok)
	require.Len(t, scripts, 1)
	entry, ok := scripts[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "safety-cutoff-v2", entry["name"])
}

func TestWebSocketUnknownType(t *testing.T) {
	_, ts := newTestServer(t)
	conn := wsDial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "launchMissiles"}))
	msg := readUntilType(t, conn, "error")
	assert.Equal(t, "protocol", msg["code"])
	assert.Contains(t, msg["message"], "unknown message type")
}

func TestWebSocketMalformedPayload(t *testing.T) {
	_, ts := newTestServer(t)
	conn := wsDial(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	msg := readUntilType(t, conn, "error")
	assert.Equal(t, "protocol", msg["code"])
}
