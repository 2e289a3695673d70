// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/labctl/internal/device/ports"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/version"
)

// scopeWaveformTimeout gives bulk trace transfers more room than ordinary
// exchanges.
const scopeWaveformTimeout = 10 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"devices": len(s.devices.Sessions()),
	})
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.Summaries())
}

func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.devices.Session(chi.URLParam(r, "deviceID"))
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api.deviceState", "unknown device"))
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.devices.Session(chi.URLParam(r, "deviceID"))
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api.deviceHistory", "unknown device"))
		return
	}
	writeJSON(w, http.StatusOK, sess.State().History)
}

func (s *Server) handleScopeWaveform(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.devices.Session(chi.URLParam(r, "deviceID"))
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api.waveform", "unknown device"))
		return
	}
	channel, err := strconv.Atoi(r.URL.Query().Get("channel"))
	if err != nil {
		writeError(w, fault.New(fault.KindPrecondition, "api.waveform", "channel query parameter required"))
		return
	}

	var wf ports.Waveform
	err = sess.Do(r.Context(), "getWaveform", scopeWaveformTimeout, func(ctx context.Context, drv ports.Driver) error {
		scope, ok := drv.(ports.ScopeDriver)
		if !ok {
			return fault.New(fault.KindPrecondition, "api.waveform", "device is not an oscilloscope")
		}
		got, err := scope.GetWaveform(ctx, channel)
		if err != nil {
			return err
		}
		wf = got
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleScopeScreenshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.devices.Session(chi.URLParam(r, "deviceID"))
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api.screenshot", "unknown device"))
		return
	}

	var img []byte
	err := sess.Do(r.Context(), "getScreenshot", scopeWaveformTimeout, func(ctx context.Context, drv ports.Driver) error {
		scope, ok := drv.(ports.ScopeDriver)
		if !ok {
			return fault.New(fault.KindPrecondition, "api.screenshot", "device is not an oscilloscope")
		}
		got, err := scope.GetScreenshot(ctx)
		if err != nil {
			return err
		}
		img = got
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// scopeCommand is the body of POST /api/devices/{id}/scope.
type scopeCommand struct {
	Op      string  `json:"op"` // run|stop|single|autoSetup|setChannelEnabled|setChannelScale|setTimebase|setTriggerLevel|setTriggerSource
	Channel int     `json:"channel,omitempty"`
	Value   float64 `json:"value,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
}

func (s *Server) handleScopeCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.devices.Session(chi.URLParam(r, "deviceID"))
	if !ok {
		writeError(w, fault.New(fault.KindNotFound, "api.scope", "unknown device"))
		return
	}
	var cmd scopeCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, fault.Wrap(fault.KindPrecondition, "api.scope", err))
		return
	}

	err := sess.Do(r.Context(), "scope."+cmd.Op, 0, func(ctx context.Context, drv ports.Driver) error {
		scope, ok := drv.(ports.ScopeDriver)
		if !ok {
			return fault.New(fault.KindPrecondition, "api.scope", "device is not an oscilloscope")
		}
		switch cmd.Op {
		case "run":
			return scope.Run(ctx)
		case "stop":
			return scope.Stop(ctx)
		case "single":
			return scope.Single(ctx)
		case "autoSetup":
			return scope.AutoSetup(ctx)
		case "setChannelEnabled":
			return scope.SetChannelEnabled(ctx, cmd.Channel, cmd.Enabled)
		case "setChannelScale":
			return scope.SetChannelScale(ctx, cmd.Channel, cmd.Value)
		case "setTimebase":
			return scope.SetTimebase(ctx, cmd.Value)
		case "setTriggerLevel":
			return scope.SetTriggerLevel(ctx, cmd.Value)
		case "setTriggerSource":
			return scope.SetTriggerSource(ctx, cmd.Channel)
		default:
			return fault.Newf(fault.KindPrecondition, "api.scope", "unknown scope op %q", cmd.Op)
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindPrecondition:
		status = http.StatusBadRequest
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindState:
		status = http.StatusConflict
	case fault.KindTransport, fault.KindProtocol:
		status = http.StatusBadGateway
	case fault.KindPersistence:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{
		"code":  string(fault.KindOf(err)),
		"error": err.Error(),
	})
}
