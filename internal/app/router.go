package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/signal"
)

// Router translates inbound control events into registry calls and
// outbound forwarded messages. It holds no room state of its own: the
// registry stays the one source of truth.
type Router struct {
	registry *core.Registry
	conns    *ConnTable
	policy   Policy
}

func NewRouter(registry *core.Registry, conns *ConnTable, policy Policy) *Router {
	if policy == nil {
		policy = FireAndForgetPolicy{}
	}
	return &Router{registry: registry, conns: conns, policy: policy}
}

// HandleJoin adds the participant, answers it with a private room
// snapshot of the existing members, and announces it to everyone else.
// A duplicate join is returned to the caller without any broadcast.
func (r *Router) HandleJoin(sid domain.ConnID, roomID domain.RoomID, displayName string) error {
	p := domain.NewParticipant(sid, displayName)
	set, err := r.registry.Join(roomID, p)
	if err != nil {
		return err
	}

	others := make([]domain.Participant, 0, len(set)-1)
	for _, m := range set {
		if m.ID != sid {
			others = append(others, m)
		}
	}

	snap, err := signal.New(signal.TypeRoomSnapshot, roomID, signal.RoomSnapshotPayload{Participants: others})
	if err != nil {
		return err
	}
	r.deliver(roomID, sid, snap)

	joined, err := signal.New(signal.TypeParticipantJoined, roomID, signal.ParticipantJoinedPayload{Participant: p})
	if err != nil {
		return err
	}
	joined.From = sid
	for _, m := range others {
		r.deliver(roomID, m.ID, joined)
	}
	return nil
}

// HandleLeave removes the participant and, if it was present, announces
// the departure to the remaining members.
func (r *Router) HandleLeave(sid domain.ConnID, roomID domain.RoomID) {
	remaining, wasPresent := r.registry.Leave(roomID, sid)
	if !wasPresent {
		return
	}
	r.announceLeft(roomID, sid, remaining)
}

// HandleOffer forwards an offer verbatim to the named target. Strictly
// point-to-point; a missing target drops the message silently.
func (r *Router) HandleOffer(sid domain.ConnID, roomID domain.RoomID, to domain.ConnID, payload json.RawMessage) {
	r.forward(signal.TypeOffer, sid, roomID, to, payload)
}

// HandleAnswer mirrors HandleOffer for the answering side.
func (r *Router) HandleAnswer(sid domain.ConnID, roomID domain.RoomID, to domain.ConnID, payload json.RawMessage) {
	r.forward(signal.TypeAnswer, sid, roomID, to, payload)
}

// HandleICECandidate forwards point-to-point when a target is named,
// otherwise to every other member of the room.
func (r *Router) HandleICECandidate(sid domain.ConnID, roomID domain.RoomID, to domain.ConnID, payload json.RawMessage) {
	env := signal.Envelope{Type: signal.TypeICECandidate, RoomID: roomID, From: sid, To: to, Payload: payload}
	if to != "" {
		r.deliver(roomID, to, env)
		return
	}
	set, ok := r.registry.Snapshot(roomID)
	if !ok {
		return
	}
	for _, m := range set {
		if m.ID != sid {
			r.deliver(roomID, m.ID, env)
		}
	}
}

// HandleToggleStream flips the stream flag and, on success, broadcasts
// the change to the whole room, the toggling participant included.
func (r *Router) HandleToggleStream(sid domain.ConnID, roomID domain.RoomID, active bool) bool {
	if !r.registry.SetStreamActive(roomID, sid, active) {
		return false
	}
	env, err := signal.New(signal.TypeStreamStatusChanged, roomID, signal.StreamStatusChangedPayload{
		ParticipantID: sid,
		Active:        active,
	})
	if err != nil {
		return false
	}
	set, ok := r.registry.Snapshot(roomID)
	if !ok {
		return true
	}
	for _, m := range set {
		r.deliver(roomID, m.ID, env)
	}
	return true
}

func (r *Router) forward(t signal.Type, sid domain.ConnID, roomID domain.RoomID, to domain.ConnID, payload json.RawMessage) {
	if to == "" {
		log.Warn().Str("module", "app.router").Str("type", string(t)).Str("from", string(sid)).Msg("point-to-point message without target, dropped")
		return
	}
	r.deliver(roomID, to, signal.Envelope{Type: t, RoomID: roomID, From: sid, To: to, Payload: payload})
}

// announceLeft is shared with the lifecycle manager's abrupt-disconnect path.
func (r *Router) announceLeft(roomID domain.RoomID, sid domain.ConnID, remaining []domain.Participant) {
	env, err := signal.New(signal.TypeParticipantLeft, roomID, signal.ParticipantLeftPayload{ParticipantID: sid})
	if err != nil {
		return
	}
	for _, m := range remaining {
		r.deliver(roomID, m.ID, env)
	}
}

// deliver resolves a live connection and enqueues the frame without
// blocking. Unknown targets are dropped per the fire-and-forget contract;
// full buffers go to the policy.
func (r *Router) deliver(roomID domain.RoomID, to domain.ConnID, env signal.Envelope) {
	conn, ok := r.conns.Get(to)
	if !ok {
		log.Debug().Str("module", "app.router").Str("to", string(to)).Str("type", string(env.Type)).Msg("target not live, dropped")
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("type", string(env.Type)).Msg("marshal envelope")
		return
	}
	if err := conn.TrySend(core.Frame(frame)); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("to", string(to)).Str("type", string(env.Type)).Msg("send failed")
		if r.policy.OnSendFailure(roomID, to, err) == DisconnectPeer {
			conn.Close()
		}
	}
}
