// Package rtc implements the peer-connection collaborator on pion/webrtc.
package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/peer"
)

type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.ConnID
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func New(cfg webrtc.Configuration, remote domain.ConnID) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, remote: remote}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	return c, nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Trickle ICE: the local description goes out right away, candidates
	// follow point-to-point as they are gathered.
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *Connection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *Connection) OnConnected(fn func()) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Str("peer_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateConnected {
			fn()
		}
	})
}

func (c *Connection) Close() {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
	}
}

var _ peer.PeerConnection = (*Connection)(nil)
