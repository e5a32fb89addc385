// Package signal defines the envelopes exchanged on the signaling
// transport. Offer, answer and candidate payloads are opaque blobs: the
// server stamps the sender and forwards them verbatim.
package signal

import (
	"encoding/json"

	"github.com/huddle-rtc/huddle/internal/domain"
)

type Type string

const (
	// client -> server
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeToggleStream Type = "toggle-stream"

	// client -> server -> client(s)
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"

	// server -> client
	TypeWelcome             Type = "welcome"
	TypeRoomSnapshot        Type = "room-snapshot"
	TypeParticipantJoined   Type = "participant-joined"
	TypeParticipantLeft     Type = "participant-left"
	TypeStreamStatusChanged Type = "stream-status-changed"
	TypeError               Type = "error"
)

type Envelope struct {
	Type    Type            `json:"type"`
	RoomID  domain.RoomID   `json:"roomId,omitempty"`
	From    domain.ConnID   `json:"from,omitempty"`
	To      domain.ConnID   `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WelcomePayload struct {
	ConnectionID domain.ConnID `json:"connectionId"`
}

type JoinPayload struct {
	DisplayName string `json:"displayName"`
}

type RoomSnapshotPayload struct {
	Participants []domain.Participant `json:"participants"`
}

type ParticipantJoinedPayload struct {
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeftPayload struct {
	ParticipantID domain.ConnID `json:"participantId"`
}

type ToggleStreamPayload struct {
	Active bool `json:"active"`
}

type StreamStatusChangedPayload struct {
	ParticipantID domain.ConnID `json:"participantId"`
	Active        bool          `json:"active"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds an envelope around a typed payload.
func New(t Type, roomID domain.RoomID, payload any) (Envelope, error) {
	env := Envelope{Type: t, RoomID: roomID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}
