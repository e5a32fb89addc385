package peer

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/domain"
)

type LinkState int

const (
	StateNew LinkState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateHaveLocalAnswer
	StateHaveRemoteAnswer
	StateConnected
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateHaveLocalAnswer:
		return "have-local-answer"
	case StateHaveRemoteAnswer:
		return "have-remote-answer"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// PeerConnection is the negotiation capability this package drives. The
// pion-backed implementation lives in adapters/rtc; tests substitute mocks.
type PeerConnection interface {
	// CreateOffer produces and installs the local offer.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer produces and installs the local answer. Valid only
	// after a remote offer was applied.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate registers the callback for locally gathered candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnConnected fires once the underlying transport is established.
	OnConnected(func())
	Close()
}

// Link is one participant's negotiation state toward one specific remote
// participant. All transitions happen under mu; the candidate buffer is
// drained atomically with the remote-description application, so no
// candidate is ever dropped or applied twice.
type Link struct {
	remoteID   domain.ConnID
	remoteName string
	pc         PeerConnection

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	timer     *time.Timer
}

func newLink(remote domain.Participant, pc PeerConnection) *Link {
	return &Link{remoteID: remote.ID, remoteName: remote.DisplayName, pc: pc, state: StateNew}
}

func (l *Link) RemoteID() domain.ConnID { return l.remoteID }
func (l *Link) RemoteName() string      { return l.remoteName }

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// sendOffer moves NEW -> HAVE_LOCAL_OFFER.
func (l *Link) sendOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNew {
		return webrtc.SessionDescription{}, fmt.Errorf("offer in state %s: %w", l.state, domain.ErrInvalidNegotiationState)
	}
	sd, err := l.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = StateHaveLocalOffer
	return sd, nil
}

// applyOffer moves NEW -> HAVE_REMOTE_OFFER -> HAVE_LOCAL_ANSWER and
// returns the answer to send back.
func (l *Link) applyOffer(sd webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNew {
		return webrtc.SessionDescription{}, fmt.Errorf("remote offer in state %s: %w", l.state, domain.ErrInvalidNegotiationState)
	}
	if err := l.setRemoteLocked(sd); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = StateHaveRemoteOffer
	answer, err := l.pc.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = StateHaveLocalAnswer
	return answer, nil
}

// applyAnswer moves HAVE_LOCAL_OFFER -> HAVE_REMOTE_ANSWER.
func (l *Link) applyAnswer(sd webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateHaveLocalOffer {
		return fmt.Errorf("remote answer in state %s: %w", l.state, domain.ErrInvalidNegotiationState)
	}
	if err := l.setRemoteLocked(sd); err != nil {
		return err
	}
	l.state = StateHaveRemoteAnswer
	return nil
}

// setRemoteLocked applies the remote description and drains the candidate
// buffer in arrival order before any further candidate can sneak past it.
func (l *Link) setRemoteLocked(sd webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	l.remoteSet = true
	for _, c := range l.pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			l.pending = nil
			return err
		}
	}
	l.pending = nil
	return nil
}

// addCandidate buffers until a remote description exists, then applies
// immediately. Candidates for a closed link are discarded.
func (l *Link) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	return l.pc.AddICECandidate(c)
}

// markConnected reports whether the link transitioned to CONNECTED.
func (l *Link) markConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed || l.state == StateConnected {
		return false
	}
	l.state = StateConnected
	l.stopTimerLocked()
	return true
}

// abort closes the link unless it already connected or closed. Used for
// per-peer failures and the negotiation liveness timeout.
func (l *Link) abort() bool {
	l.mu.Lock()
	if l.state == StateClosed || l.state == StateConnected {
		l.mu.Unlock()
		return false
	}
	l.closeLocked()
	l.mu.Unlock()
	return true
}

// close tears the link down from any state.
func (l *Link) close() bool {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return false
	}
	l.closeLocked()
	l.mu.Unlock()
	return true
}

func (l *Link) closeLocked() {
	l.state = StateClosed
	l.pending = nil
	l.stopTimerLocked()
	l.pc.Close()
}

func (l *Link) armTimer(d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return
	}
	l.timer = time.AfterFunc(d, fn)
}

func (l *Link) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
