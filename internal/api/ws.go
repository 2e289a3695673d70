// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ManuGH/labctl/internal/bus"
	"github.com/ManuGH/labctl/internal/fault"
	"github.com/ManuGH/labctl/internal/log"
	seqmodel "github.com/ManuGH/labctl/internal/sequence/model"
	trgmodel "github.com/ManuGH/labctl/internal/trigger/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 512 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is enforced by the CORS layer; the UI connects same-origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is the decoded client-to-server envelope. Only the fields
// of the active type are meaningful.
type clientMessage struct {
	Type string `json:"type"`

	DeviceID  string  `json:"deviceId,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	Enabled   bool    `json:"enabled,omitempty"`
	Name      string  `json:"name,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Immediate bool    `json:"immediate,omitempty"`

	Sequence   *seqmodel.SequenceDefinition `json:"sequence,omitempty"`
	SequenceID string                       `json:"sequenceId,omitempty"`
	Parameter  string                       `json:"parameter,omitempty"`
	RepeatMode string                       `json:"repeatMode,omitempty"`
	RepeatCnt  int                          `json:"repeatCount,omitempty"`

	Script   *trgmodel.TriggerScript `json:"script,omitempty"`
	ScriptID string                  `json:"scriptId,omitempty"`
}

// handleWS upgrades the connection and runs one client: a write pump
// draining the bus queue and a read loop dispatching the client catalog.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("ws").Warn().Err(err).Msg("upgrade failed")
		return
	}

	clientID := uuid.NewString()
	client := s.bus.Attach(clientID)
	logger := log.WithComponent("ws")
	logger.Info().Str(log.FieldClientID, clientID).Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer s.bus.Detach(clientID)

	go s.writePump(ctx, conn, client, clientID)
	s.readLoop(ctx, conn, clientID)

	logger.Info().Str(log.FieldClientID, clientID).Msg("client disconnected")
	_ = conn.Close()
}

// writePump serializes bus messages onto the socket and keeps the
// connection alive with pings.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, client *bus.Client, clientID string) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	msgCh := make(chan bus.Message)
	go func() {
		defer close(msgCh)
		for {
			msg, ok := client.Next(ctx)
			if !ok {
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.WithComponent("ws").Debug().
					Str(log.FieldClientID, clientID).
					Err(err).
					Msg("write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.bus.PublishTo(clientID, bus.NewError("", string(fault.KindProtocol), "malformed message"))
			continue
		}
		s.dispatch(ctx, clientID, msg)
	}
}
