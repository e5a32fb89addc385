package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/signal"
)

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "ws").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid domain.ConnID, c *Conn, disconnect func()) {
	defer func() {
		log.Info().Str("module", "ws").Str("conn", string(sid)).Msg("readPump closing")
		disconnect()
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
		cancel()
	}()

	pongWait := ctl.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "ws").Str("conn", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(sid, c, data)
		}
	}
}

func (ctl *Controller) dispatch(sid domain.ConnID, c *Conn, data []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("conn", string(sid)).Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "ws").Str("conn", string(sid)).Str("type", string(env.Type)).Msg("rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}

	switch env.Type {
	case signal.TypeJoin:
		ctl.handleJoin(sid, c, env)
	case signal.TypeLeave:
		ctl.Router.HandleLeave(sid, env.RoomID)
	case signal.TypeOffer:
		ctl.Router.HandleOffer(sid, env.RoomID, env.To, env.Payload)
	case signal.TypeAnswer:
		ctl.Router.HandleAnswer(sid, env.RoomID, env.To, env.Payload)
	case signal.TypeICECandidate:
		ctl.Router.HandleICECandidate(sid, env.RoomID, env.To, env.Payload)
	case signal.TypeToggleStream:
		ctl.handleToggleStream(sid, env)
	default:
		log.Warn().Str("module", "ws").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (ctl *Controller) handleJoin(sid domain.ConnID, c *Conn, env signal.Envelope) {
	var p signal.JoinPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("bad join payload")
			ctl.sendError(c, "bad_payload")
			return
		}
	}
	if env.RoomID == "" {
		ctl.sendError(c, "missing room")
		return
	}

	if err := ctl.Router.HandleJoin(sid, env.RoomID, p.DisplayName); err != nil {
		// Local failure only: a duplicate join never broadcasts.
		if errors.Is(err, domain.ErrDuplicateParticipant) {
			ctl.sendError(c, "already in room")
			return
		}
		log.Error().Err(err).Str("module", "ws").Str("conn", string(sid)).Msg("join")
		ctl.sendError(c, "join failed")
	}
}

func (ctl *Controller) handleToggleStream(sid domain.ConnID, env signal.Envelope) {
	var p signal.ToggleStreamPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("bad toggle payload")
			return
		}
	}
	// Best effort: a toggle for a participant the registry does not know
	// is dropped without a reply.
	ctl.Router.HandleToggleStream(sid, env.RoomID, p.Active)
}

func (ctl *Controller) sendEnvelope(c *Conn, env signal.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("sendEnvelope marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *Conn, msg string) {
	env, err := signal.New(signal.TypeError, "", signal.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	ctl.sendEnvelope(c, env)
}
