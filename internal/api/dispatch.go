// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"

	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/device/session"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	seqmodel "github.com/ManuGH/labctl/internal/sequence/model"
)

// dispatch executes one client request. Failures are reported back on the
// client's own queue as error messages; the socket itself stays open.
func (s *Server) dispatch(ctx context.Context, clientID string, msg clientMessage) {
	var err error
	switch msg.Type {
	case "getDevices":
		s.devices.SendDeviceList(clientID)
	case "scan":
		err = s.devices.Scan(ctx)

	case "subscribe":
		err = s.withSession(msg, func(sess *session.Session) error {
			sess.Subscribe(clientID)
			return nil
		})
	case "unsubscribe":
		err = s.withSession(msg, func(sess *session.Session) error {
			sess.Unsubscribe(clientID)
			return nil
		})
	case "setMode":
		err = s.withSession(msg, func(sess *session.Session) error {
			return sess.SetMode(ctx, msg.Mode)
		})
	case "setOutput":
		err = s.withSession(msg, func(sess *session.Session) error {
			return sess.SetOutput(ctx, msg.Enabled)
		})
	case "setValue":
		err = s.withSession(msg, func(sess *session.Session) error {
			return sess.SetValue(ctx, msg.Name, msg.Value, msg.Immediate)
		})
	case "reconnect":
		err = s.withSession(msg, func(sess *session.Session) error {
			return sess.Reconnect(ctx)
		})

	case "sequenceLibraryList":
		s.sequences.SendLibrary(clientID)
	case "sequenceLibrarySave", "sequenceLibraryUpdate":
		err = s.saveSequence(msg)
	case "sequenceLibraryDelete":
		err = s.sequences.Delete(msg.SequenceID)
	case "sequenceRun":
		_, err = s.sequences.Run(ctx, seqmodel.RunConfig{
			SequenceID:  msg.SequenceID,
			DeviceID:    msg.DeviceID,
			Parameter:   msg.Parameter,
			RepeatMode:  seqmodel.RepeatMode(msg.RepeatMode),
			RepeatCount: msg.RepeatCnt,
		})
	case "sequenceAbort":
		err = s.sequences.Abort()
	case "sequencePause":
		err = s.sequences.Pause()
	case "sequenceResume":
		err = s.sequences.Resume()

	case "triggerScriptLibraryList":
		s.triggers.SendLibrary(clientID)
	case "triggerScriptLibrarySave", "triggerScriptLibraryUpdate":
		err = s.saveTriggerScript(msg)
	case "triggerScriptLibraryDelete":
		err = s.triggers.Delete(msg.ScriptID)
	case "triggerScriptRun":
		_, err = s.triggers.Run(ctx, msg.ScriptID)
	case "triggerScriptStop":
		err = s.triggers.StopScript()
	case "triggerScriptPause":
		err = s.triggers.Pause()
	case "triggerScriptResume":
		err = s.triggers.Resume()

	default:
		err = fault.Newf(fault.KindProtocol, "api.ws", "unknown message type %q", msg.Type)
	}

	if err != nil {
		log.WithComponent("ws").Debug().
			Str(log.FieldClientID, clientID).
			Str(log.FieldEvent, msg.Type).
			Err(err).
			Msg("request failed")
		s.bus.PublishTo(clientID, bus.NewError(msg.DeviceID, string(fault.KindOf(err)), err.Error()))
	}
}

func (s *Server) withSession(msg clientMessage, fn func(*session.Session) error) error {
	sess, ok := s.devices.Session(msg.DeviceID)
	if !ok {
		return fault.Newf(fault.KindNotFound, "api.ws", "unknown device %q", msg.DeviceID)
	}
	return fn(sess)
}

// saveSequence creates or updates depending on whether the definition
// carries an ID.
func (s *Server) saveSequence(msg clientMessage) error {
	if msg.Sequence == nil {
		return fault.New(fault.KindPrecondition, "api.ws", "sequence payload required")
	}
	if msg.Sequence.ID == "" {
		_, err := s.sequences.Add(*msg.Sequence)
		return err
	}
	return s.sequences.Update(*msg.Sequence)
}

func (s *Server) saveTriggerScript(msg clientMessage) error {
	if msg.Script == nil {
		return fault.New(fault.KindPrecondition, "api.ws", "script payload required")
	}
	if msg.Script.ID == "" {
		_, err := s.triggers.Add(*msg.Script)
		return err
	}
	return s.triggers.Update(*msg.Script)
}
