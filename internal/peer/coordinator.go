// Package peer drives client-side negotiation: one Link per remote
// participant, buffered inputs, explicit state transitions.
package peer

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/domain"
)

// Signaler carries negotiation messages to one specific remote
// participant through the signaling server. Local candidates always go
// point-to-point: broadcasting them would feed the wrong Peer Link.
type Signaler interface {
	SendOffer(to domain.ConnID, sd webrtc.SessionDescription) error
	SendAnswer(to domain.ConnID, sd webrtc.SessionDescription) error
	SendCandidate(to domain.ConnID, c webrtc.ICECandidateInit) error
}

// LinkEvent reports a per-peer outcome. Failures are non-fatal: one
// broken link never touches the others.
type LinkEvent struct {
	Peer  domain.ConnID
	State LinkState
	Err   error
}

// Coordinator owns this client's set of Peer Links and routes inbound
// negotiation messages to them. The joiner initiates: discovering peers
// through a room snapshot produces offers, while a participant-joined
// announcement only prepares a passive link that awaits the inbound offer.
type Coordinator struct {
	sig     Signaler
	newConn func(remote domain.ConnID) (PeerConnection, error)
	timeout time.Duration

	mu     sync.Mutex
	links  map[domain.ConnID]*Link
	closed bool

	events chan LinkEvent
}

func NewCoordinator(sig Signaler, newConn func(remote domain.ConnID) (PeerConnection, error), timeout time.Duration) *Coordinator {
	return &Coordinator{
		sig:     sig,
		newConn: newConn,
		timeout: timeout,
		links:   make(map[domain.ConnID]*Link),
		events:  make(chan LinkEvent, 32),
	}
}

// Events exposes per-peer outcomes (connected, closed, failed).
func (c *Coordinator) Events() <-chan LinkEvent { return c.events }

// State reports the link state toward one peer, if a link exists.
func (c *Coordinator) State(id domain.ConnID) (LinkState, bool) {
	c.mu.Lock()
	l, ok := c.links[id]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	return l.State(), true
}

// HandleRoomSnapshot initiates negotiation toward every member already in
// the room.
func (c *Coordinator) HandleRoomSnapshot(participants []domain.Participant) {
	for _, p := range participants {
		l, created := c.ensureLink(p)
		if !created {
			continue
		}
		sd, err := l.sendOffer()
		if err != nil {
			c.fail(l, err)
			continue
		}
		if err := c.sig.SendOffer(p.ID, sd); err != nil {
			c.fail(l, err)
		}
	}
}

// HandleParticipantJoined prepares a passive link; the joiner will offer.
func (c *Coordinator) HandleParticipantJoined(p domain.Participant) {
	c.ensureLink(p)
}

// HandleOffer applies a remote offer and answers it. An offer from a peer
// without a link creates one on the spot, which covers the race where the
// offer outruns the membership announcement.
func (c *Coordinator) HandleOffer(from domain.ConnID, sd webrtc.SessionDescription) {
	l, _ := c.ensureLink(domain.Participant{ID: from})
	if l == nil {
		return
	}
	answer, err := l.applyOffer(sd)
	if err != nil {
		c.fail(l, err)
		return
	}
	if err := c.sig.SendAnswer(from, answer); err != nil {
		c.fail(l, err)
	}
}

// HandleAnswer completes the offering side's exchange.
func (c *Coordinator) HandleAnswer(from domain.ConnID, sd webrtc.SessionDescription) {
	l, ok := c.link(from)
	if !ok {
		log.Debug().Str("module", "peer").Str("from", string(from)).Msg("answer for unknown peer, dropped")
		return
	}
	if err := l.applyAnswer(sd); err != nil {
		c.fail(l, err)
	}
}

// HandleCandidate feeds a remote candidate into the matching link.
func (c *Coordinator) HandleCandidate(from domain.ConnID, cand webrtc.ICECandidateInit) {
	l, ok := c.link(from)
	if !ok {
		log.Debug().Str("module", "peer").Str("from", string(from)).Msg("candidate for unknown peer, dropped")
		return
	}
	if err := l.addCandidate(cand); err != nil {
		c.fail(l, err)
	}
}

// HandleParticipantLeft discards the link toward the departed peer.
func (c *Coordinator) HandleParticipantLeft(id domain.ConnID) {
	c.mu.Lock()
	l, ok := c.links[id]
	if ok {
		delete(c.links, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if l.close() {
		c.emit(LinkEvent{Peer: id, State: StateClosed, Err: domain.ErrPeerGone})
	}
}

// Close tears down every link, e.g. on local leave or shutdown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	all := make([]*Link, 0, len(c.links))
	for _, l := range c.links {
		all = append(all, l)
	}
	c.links = make(map[domain.ConnID]*Link)
	c.closed = true
	c.mu.Unlock()

	for _, l := range all {
		l.close()
	}
}

func (c *Coordinator) link(id domain.ConnID) (*Link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[id]
	return l, ok
}

// ensureLink returns the link toward the peer, creating it when first
// encountered. Exactly one link per remote participant.
func (c *Coordinator) ensureLink(p domain.Participant) (*Link, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	if l, ok := c.links[p.ID]; ok {
		c.mu.Unlock()
		return l, false
	}
	c.mu.Unlock()

	pc, err := c.newConn(p.ID)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(p.ID)).Msg("create peer connection")
		c.emit(LinkEvent{Peer: p.ID, State: StateClosed, Err: err})
		return nil, false
	}
	l := newLink(p, pc)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pc.Close()
		return nil, false
	}
	if existing, ok := c.links[p.ID]; ok {
		c.mu.Unlock()
		pc.Close()
		return existing, false
	}
	c.links[p.ID] = l
	c.mu.Unlock()

	pc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		if err := c.sig.SendCandidate(l.remoteID, cand); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remoteID)).Msg("send local candidate")
		}
	})
	pc.OnConnected(func() {
		if l.markConnected() {
			log.Info().Str("module", "peer").Str("remote", string(l.remoteID)).Msg("link connected")
			c.emit(LinkEvent{Peer: l.remoteID, State: StateConnected})
		}
	})
	l.armTimer(c.timeout, func() {
		c.failWith(l, domain.ErrNegotiationTimeout)
	})

	return l, true
}

func (c *Coordinator) fail(l *Link, err error) {
	c.failWith(l, err)
}

// failWith closes a link that never reached CONNECTED and reports it as a
// per-peer event. Other links are untouched.
func (c *Coordinator) failWith(l *Link, err error) {
	if !l.abort() {
		return
	}
	c.mu.Lock()
	if c.links[l.remoteID] == l {
		delete(c.links, l.remoteID)
	}
	c.mu.Unlock()
	log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remoteID)).Msg("link failed")
	c.emit(LinkEvent{Peer: l.remoteID, State: StateClosed, Err: err})
}

// emit never blocks; when the consumer lags, the new event is dropped
// rather than stalling negotiation.
func (c *Coordinator) emit(ev LinkEvent) {
	select {
	case c.events <- ev:
	default:
	}
}
