package peer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/domain"
)

// mockPC records operations in call order for verification.
type mockPC struct {
	mu          sync.Mutex
	ops         []string
	offerErr    error
	answerErr   error
	remoteErr   error
	candErr     error
	onConnected func()
	onICE       func(webrtc.ICECandidateInit)
	closed      bool
}

func (m *mockPC) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

func (m *mockPC) CreateOffer() (webrtc.SessionDescription, error) {
	if m.offerErr != nil {
		return webrtc.SessionDescription{}, m.offerErr
	}
	m.record("createOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (m *mockPC) CreateAnswer() (webrtc.SessionDescription, error) {
	if m.answerErr != nil {
		return webrtc.SessionDescription{}, m.answerErr
	}
	m.record("createAnswer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (m *mockPC) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if m.remoteErr != nil {
		return m.remoteErr
	}
	m.record("setRemote:" + sd.SDP)
	return nil
}

func (m *mockPC) AddICECandidate(c webrtc.ICECandidateInit) error {
	if m.candErr != nil {
		return m.candErr
	}
	m.record("addCandidate:" + c.Candidate)
	return nil
}

func (m *mockPC) OnICECandidate(fn func(webrtc.ICECandidateInit)) { m.onICE = fn }
func (m *mockPC) OnConnected(fn func())                          { m.onConnected = fn }

func (m *mockPC) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockPC) opsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ops))
	copy(out, m.ops)
	return out
}

func (m *mockPC) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type sentMsg struct {
	to   domain.ConnID
	kind string
	body string
}

type mockSignaler struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (s *mockSignaler) SendOffer(to domain.ConnID, sd webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{to, "offer", sd.SDP})
	return nil
}

func (s *mockSignaler) SendAnswer(to domain.ConnID, sd webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{to, "answer", sd.SDP})
	return nil
}

func (s *mockSignaler) SendCandidate(to domain.ConnID, c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{to, "candidate", c.Candidate})
	return nil
}

func (s *mockSignaler) byKind(kind string) []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMsg
	for _, m := range s.sent {
		if m.kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	sig   *mockSignaler
	coord *Coordinator
	mu    sync.Mutex
	pcs   map[int]*mockPC
	next  int
	fail  error
}

func newHarness(timeout time.Duration) *harness {
	h := &harness{sig: &mockSignaler{}, pcs: make(map[int]*mockPC)}
	h.coord = NewCoordinator(h.sig, func(domain.ConnID) (PeerConnection, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.fail != nil {
			return nil, h.fail
		}
		pc := &mockPC{}
		h.pcs[h.next] = pc
		h.next++
		return pc, nil
	}, timeout)
	return h
}

func (h *harness) pc(i int) *mockPC {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pcs[i]
}

func TestSnapshotInitiatesOnePerPeer(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleRoomSnapshot([]domain.Participant{
		{ID: "a", DisplayName: "alice"},
		{ID: "b", DisplayName: "bob"},
	})

	offers := h.sig.byKind("offer")
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}
	if st, ok := h.coord.State("a"); !ok || st != StateHaveLocalOffer {
		t.Fatalf("a: expected have-local-offer, got %v ok=%v", st, ok)
	}

	// A repeated snapshot must not spawn a second link or a second offer.
	h.coord.HandleRoomSnapshot([]domain.Participant{{ID: "a", DisplayName: "alice"}})
	if len(h.sig.byKind("offer")) != 2 {
		t.Fatal("existing link must not re-offer")
	}
}

func TestParticipantJoinedIsPassive(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleParticipantJoined(domain.Participant{ID: "j", DisplayName: "joiner"})

	if len(h.sig.byKind("offer")) != 0 {
		t.Fatal("the discovered side must wait for the joiner's offer")
	}
	if st, ok := h.coord.State("j"); !ok || st != StateNew {
		t.Fatalf("expected passive link in new, got %v ok=%v", st, ok)
	}
}

func TestCandidatesBufferedUntilRemoteOffer(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleParticipantJoined(domain.Participant{ID: "j"})

	h.coord.HandleCandidate("j", webrtc.ICECandidateInit{Candidate: "c1"})
	h.coord.HandleCandidate("j", webrtc.ICECandidateInit{Candidate: "c2"})

	pc := h.pc(0)
	if ops := pc.opsSnapshot(); len(ops) != 0 {
		t.Fatalf("nothing should touch the pc before the offer, got %v", ops)
	}

	h.coord.HandleOffer("j", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})

	want := []string{"setRemote:remote-offer", "addCandidate:c1", "addCandidate:c2", "createAnswer"}
	got := pc.opsSnapshot()
	if len(got) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d: expected %q, got %q (all: %v)", i, want[i], got[i], got)
		}
	}

	answers := h.sig.byKind("answer")
	if len(answers) != 1 || answers[0].to != "j" {
		t.Fatalf("expected 1 answer to j, got %v", answers)
	}
	if st, _ := h.coord.State("j"); st != StateHaveLocalAnswer {
		t.Fatalf("expected have-local-answer, got %v", st)
	}

	// Once drained, fresh candidates apply immediately and exactly once.
	h.coord.HandleCandidate("j", webrtc.ICECandidateInit{Candidate: "c3"})
	got = pc.opsSnapshot()
	if got[len(got)-1] != "addCandidate:c3" {
		t.Fatalf("late candidate should apply immediately, ops %v", got)
	}
}

func TestAnswerDrainsBufferAndConnects(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleRoomSnapshot([]domain.Participant{{ID: "b", DisplayName: "bob"}})
	pc := h.pc(0)

	h.coord.HandleCandidate("b", webrtc.ICECandidateInit{Candidate: "c1"})
	h.coord.HandleAnswer("b", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})

	want := []string{"createOffer", "setRemote:remote-answer", "addCandidate:c1"}
	got := pc.opsSnapshot()
	if len(got) != len(want) {
		t.Fatalf("expected ops %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("op %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if st, _ := h.coord.State("b"); st != StateHaveRemoteAnswer {
		t.Fatalf("expected have-remote-answer, got %v", st)
	}

	pc.onConnected()
	if st, _ := h.coord.State("b"); st != StateConnected {
		t.Fatalf("expected connected, got %v", st)
	}
	ev := <-h.coord.Events()
	if ev.Peer != "b" || ev.State != StateConnected || ev.Err != nil {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestLocalCandidatesGoPointToPoint(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleRoomSnapshot([]domain.Participant{{ID: "b"}})
	pc := h.pc(0)

	pc.onICE(webrtc.ICECandidateInit{Candidate: "local-1"})

	cands := h.sig.byKind("candidate")
	if len(cands) != 1 || cands[0].to != "b" {
		t.Fatalf("local candidate must target the link's peer, got %v", cands)
	}
}

func TestRemoteFailureClosesOnlyThatLink(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleParticipantJoined(domain.Participant{ID: "bad"})
	h.coord.HandleParticipantJoined(domain.Participant{ID: "good"})

	badPC := h.pc(0)
	badPC.remoteErr = errors.New("malformed sdp")

	h.coord.HandleOffer("bad", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "junk"})

	if !badPC.isClosed() {
		t.Fatal("failed link must release its peer connection")
	}
	if _, ok := h.coord.State("bad"); ok {
		t.Fatal("failed link must be discarded")
	}
	if _, ok := h.coord.State("good"); !ok {
		t.Fatal("other links must be untouched")
	}

	ev := <-h.coord.Events()
	if ev.Peer != "bad" || ev.State != StateClosed || ev.Err == nil {
		t.Fatalf("expected failure event for bad, got %+v", ev)
	}
}

func TestOfferInWrongStateClosesLink(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleParticipantJoined(domain.Participant{ID: "j"})
	h.coord.HandleOffer("j", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o1"})

	// A second offer on the same link is not a valid transition.
	h.coord.HandleOffer("j", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o2"})

	ev := <-h.coord.Events()
	if !errors.Is(ev.Err, domain.ErrInvalidNegotiationState) {
		t.Fatalf("expected invalid-state failure, got %+v", ev)
	}
}

func TestParticipantLeftDiscardsBufferedState(t *testing.T) {
	h := newHarness(0)
	h.coord.HandleParticipantJoined(domain.Participant{ID: "j"})
	pc := h.pc(0)

	h.coord.HandleCandidate("j", webrtc.ICECandidateInit{Candidate: "c1"})
	h.coord.HandleParticipantLeft("j")

	if !pc.isClosed() {
		t.Fatal("link teardown must close the peer connection")
	}
	if _, ok := h.coord.State("j"); ok {
		t.Fatal("link must be removed")
	}

	// A candidate arriving after CLOSED must not be applied.
	h.coord.HandleCandidate("j", webrtc.ICECandidateInit{Candidate: "late"})
	for _, op := range pc.opsSnapshot() {
		if op == "addCandidate:late" {
			t.Fatal("buffered state applied after close")
		}
	}
}

func TestNegotiationTimeout(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	h.coord.HandleRoomSnapshot([]domain.Participant{{ID: "slow"}})

	select {
	case ev := <-h.coord.Events():
		if !errors.Is(ev.Err, domain.ErrNegotiationTimeout) {
			t.Fatalf("expected timeout failure, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stalled negotiation never timed out")
	}
	if _, ok := h.coord.State("slow"); ok {
		t.Fatal("timed-out link must be discarded")
	}
}

func TestConnectedLinkSurvivesTimeout(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	h.coord.HandleRoomSnapshot([]domain.Participant{{ID: "b"}})
	pc := h.pc(0)

	h.coord.HandleAnswer("b", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"})
	pc.onConnected()

	time.Sleep(60 * time.Millisecond)
	if st, ok := h.coord.State("b"); !ok || st != StateConnected {
		t.Fatalf("connected link must not be reaped by the timer, got %v ok=%v", st, ok)
	}
}
