// internal/handlers/battle_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/battle"
	"github.com/jason-s-yu/promptquest/internal/middleware"
	"github.com/jason-s-yu/promptquest/internal/models"
)

const (
	battleSubprotocol = "battle"
	wsPingInterval    = 30 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

// clientMessage is what a client may send on the battle channel.
type clientMessage struct {
	Type string `json:"type"`
}

type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// BattleWSHandler streams battle_update events to the two participants. The
// current snapshot is sent on connect; clients send {"type":"resync"} after a
// version gap and {"type":"ping"} as a keepalive.
func (s *Server) BattleWSHandler(w http.ResponseWriter, r *http.Request) {
	p, err := authenticate(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := battleID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	current, err := s.Engine.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if current.SeatOf(p.ID) == models.SeatNone {
		writeError(w, http.StatusForbidden, "not a participant of this battle")
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{battleSubprotocol},
		OriginPatterns: s.AllowedOrigins,
	})
	if err != nil {
		s.Logger.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != battleSubprotocol {
		c.Close(BadSubprotocolError, "client must speak the battle subprotocol")
		return
	}

	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)
	log := s.Logger.WithFields(logrus.Fields{"battle_id": id, "participant": p.ID})

	// subscribe before the first snapshot so no update falls between them
	sub := s.Hub.Subscribe(id)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := writeMessage(ctx, c, battle.NewEvent(battle.EventSnapshot, current)); err != nil {
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)
		return
	}

	replies := make(chan any, 4)
	go s.battleWritePump(ctx, cancel, c, sub.Events(), replies, log)

	err = s.battleReadPump(ctx, c, id, replies, log)
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)

	if errors.Is(err, battle.ErrNotFound) {
		c.Close(InvalidBattleIDError, "battle no longer exists")
		return
	}
	c.Close(websocket.StatusNormalClosure, "")
}

// battleReadPump handles client control messages until the connection ends.
// A normal close returns nil.
func (s *Server) battleReadPump(ctx context.Context, c *websocket.Conn, id uuid.UUID, replies chan<- any, log logrus.FieldLogger) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.enqueue(ctx, replies, controlMessage{Type: "error", Message: "invalid JSON format"})
			continue
		}

		switch msg.Type {
		case "resync":
			b, err := s.Engine.Get(ctx, id)
			if err != nil {
				if errors.Is(err, battle.ErrNotFound) {
					return err
				}
				log.WithError(err).Warn("resync failed")
				s.enqueue(ctx, replies, controlMessage{Type: "error", Message: "resync failed"})
				continue
			}
			s.enqueue(ctx, replies, battle.NewEvent(battle.EventSnapshot, b))
		case "ping":
			s.enqueue(ctx, replies, controlMessage{Type: "pong"})
		default:
			s.enqueue(ctx, replies, controlMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (s *Server) enqueue(ctx context.Context, replies chan<- any, msg any) {
	select {
	case replies <- msg:
	case <-ctx.Done():
	}
}

// battleWritePump is the only writer on the connection. It stops the handler
// via cancel when a write fails.
func (s *Server) battleWritePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, events <-chan battle.Event, replies <-chan any, log logrus.FieldLogger) {
	defer cancel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		var out any
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			out = ev
		case msg := <-replies:
			out = msg
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				log.WithError(err).Debug("websocket ping failed")
				return
			}
			continue
		}

		if err := writeMessage(ctx, c, out); err != nil {
			log.WithError(err).Debug("failed to write to websocket")
			return
		}
	}
}

func writeMessage(ctx context.Context, c *websocket.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}
