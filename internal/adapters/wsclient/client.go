// Package wsclient dials the signaling endpoint and bridges envelopes
// to a peer.Coordinator.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/peer"
	"github.com/huddle-rtc/huddle/internal/signal"
)

var (
	_ peer.Signaler = (*Client)(nil)
	_ Receiver      = (*peer.Coordinator)(nil)
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Receiver is the set of callbacks a client feeds with decoded server
// traffic. *peer.Coordinator satisfies it.
type Receiver interface {
	HandleRoomSnapshot(participants []domain.Participant)
	HandleParticipantJoined(p domain.Participant)
	HandleParticipantLeft(id domain.ConnID)
	HandleOffer(from domain.ConnID, sd webrtc.SessionDescription)
	HandleAnswer(from domain.ConnID, sd webrtc.SessionDescription)
	HandleCandidate(from domain.ConnID, cand webrtc.ICECandidateInit)
}

// Client manages the websocket connection to the signaling server. It
// implements peer.Signaler for the local coordinator.
type Client struct {
	serverURL string
	roomID    domain.RoomID

	conn     *websocket.Conn
	outgoing chan signal.Envelope
	done     chan struct{}

	mu     sync.Mutex
	selfID domain.ConnID
	closed bool
}

func NewClient(serverURL string, roomID domain.RoomID) *Client {
	return &Client{
		serverURL: serverURL,
		roomID:    roomID,
		outgoing:  make(chan signal.Envelope, 16),
		done:      make(chan struct{}),
	}
}

// Connect dials the server and starts the write pump. Reading happens
// in Run so the caller controls dispatch lifetime.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump()
	return nil
}

// SelfID reports the connection id assigned by the welcome envelope.
// Empty until the welcome arrives.
func (c *Client) SelfID() domain.ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Client) Join(displayName string) error {
	env, err := signal.New(signal.TypeJoin, c.roomID, signal.JoinPayload{DisplayName: displayName})
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *Client) Leave() error {
	env, err := signal.New(signal.TypeLeave, c.roomID, nil)
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *Client) ToggleStream(active bool) error {
	env, err := signal.New(signal.TypeToggleStream, c.roomID, signal.ToggleStreamPayload{Active: active})
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *Client) SendOffer(to domain.ConnID, sd webrtc.SessionDescription) error {
	return c.sendTo(signal.TypeOffer, to, sd)
}

func (c *Client) SendAnswer(to domain.ConnID, sd webrtc.SessionDescription) error {
	return c.sendTo(signal.TypeAnswer, to, sd)
}

func (c *Client) SendCandidate(to domain.ConnID, cand webrtc.ICECandidateInit) error {
	return c.sendTo(signal.TypeICECandidate, to, cand)
}

func (c *Client) sendTo(t signal.Type, to domain.ConnID, payload any) error {
	env, err := signal.New(t, c.roomID, payload)
	if err != nil {
		return err
	}
	env.To = to
	return c.send(env)
}

func (c *Client) send(env signal.Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("signaling client closed")
	}
}

// Run reads envelopes until the connection drops or ctx ends, feeding
// the receiver. It returns the read error, nil on clean close.
func (c *Client) Run(ctx context.Context, rcv Receiver) error {
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var env signal.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.dispatch(env, rcv)
	}
}

func (c *Client) dispatch(env signal.Envelope, rcv Receiver) {
	switch env.Type {
	case signal.TypeWelcome:
		var p signal.WelcomePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad welcome payload")
			return
		}
		c.mu.Lock()
		c.selfID = p.ConnectionID
		c.mu.Unlock()
	case signal.TypeRoomSnapshot:
		var p signal.RoomSnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad snapshot payload")
			return
		}
		rcv.HandleRoomSnapshot(p.Participants)
	case signal.TypeParticipantJoined:
		var p signal.ParticipantJoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad joined payload")
			return
		}
		rcv.HandleParticipantJoined(p.Participant)
	case signal.TypeParticipantLeft:
		var p signal.ParticipantLeftPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad left payload")
			return
		}
		rcv.HandleParticipantLeft(p.ParticipantID)
	case signal.TypeOffer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(env.Payload, &sd); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad offer payload")
			return
		}
		rcv.HandleOffer(env.From, sd)
	case signal.TypeAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(env.Payload, &sd); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad answer payload")
			return
		}
		rcv.HandleAnswer(env.From, sd)
	case signal.TypeICECandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(env.Payload, &cand); err != nil {
			log.Error().Err(err).Str("module", "wsclient").Msg("bad candidate payload")
			return
		}
		rcv.HandleCandidate(env.From, cand)
	case signal.TypeStreamStatusChanged:
		// Informational; surfaced to the UI layer, not the coordinator.
	case signal.TypeError:
		var p signal.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			log.Warn().Str("module", "wsclient").Str("error", p.Error).Msg("server error")
		}
	default:
		log.Warn().Str("module", "wsclient").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
