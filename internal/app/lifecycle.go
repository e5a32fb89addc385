package app

import (
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

// Lifecycle reacts to abrupt socket loss: it evicts the participant from
// every room and lets the remaining members know. The transport must call
// Disconnect exactly once per connection; after an explicit leave the
// participant is in no room, so a trailing disconnect is a natural no-op.
type Lifecycle struct {
	registry *core.Registry
	conns    *ConnTable
	router   *Router
}

func NewLifecycle(registry *core.Registry, conns *ConnTable, router *Router) *Lifecycle {
	return &Lifecycle{registry: registry, conns: conns, router: router}
}

func (l *Lifecycle) Disconnect(sid domain.ConnID) {
	wasBound := l.conns.Unbind(sid)
	removals := l.registry.DisconnectEverywhere(sid)
	for _, rm := range removals {
		l.router.announceLeft(rm.Room, sid, rm.Remaining)
	}
	log.Info().Str("module", "app.lifecycle").
		Str("conn", string(sid)).
		Bool("was_bound", wasBound).
		Int("rooms_left", len(removals)).
		Msg("disconnect handled")
}
