package domain

import "errors"

var (
	// ErrDuplicateParticipant guards against a double-join from the same socket.
	ErrDuplicateParticipant = errors.New("participant already in room")

	// ErrRoomNotFound is returned by read paths; mutating paths treat a
	// missing room as a no-op instead.
	ErrRoomNotFound = errors.New("room not found")

	// ErrUnknownTarget marks a point-to-point forward to a connection that
	// is not live. Callers drop the message, never report it to the sender.
	ErrUnknownTarget = errors.New("unknown target connection")

	// ErrInvalidNegotiationState is raised when a description or candidate
	// is applied in a peer-link state that cannot accept it.
	ErrInvalidNegotiationState = errors.New("invalid negotiation state")

	// ErrNegotiationTimeout closes a peer link that never reached CONNECTED.
	ErrNegotiationTimeout = errors.New("negotiation timed out")

	// ErrPeerGone closes a peer link whose remote participant left the room.
	ErrPeerGone = errors.New("remote participant left")
)
