package app

import (
	"github.com/huddle-rtc/huddle/internal/domain"
)

type DropAction int

const (
	NoAction DropAction = iota
	DisconnectPeer
)

// Policy decides what happens when a forward cannot be delivered because
// the recipient's outbound buffer is full.
type Policy interface {
	OnSendFailure(room domain.RoomID, id domain.ConnID, err error) DropAction
}

// FireAndForgetPolicy drops the frame and moves on. Negotiation failures
// surface to the application through connection-state timeouts, not
// router errors.
type FireAndForgetPolicy struct{}

func (FireAndForgetPolicy) OnSendFailure(domain.RoomID, domain.ConnID, error) DropAction {
	return NoAction
}

// KickSlowPolicy closes connections that cannot drain their buffer; the
// transport's read loop then drives normal disconnect cleanup.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnSendFailure(domain.RoomID, domain.ConnID, error) DropAction {
	return DisconnectPeer
}
