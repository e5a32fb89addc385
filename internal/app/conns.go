package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

// ConnTable maps live connection identifiers to their signaling endpoints.
// The transport binds on upgrade and unbinds exactly once on close; the
// router resolves point-to-point forwards against it.
type ConnTable struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]core.SignalConnection
}

func NewConnTable() *ConnTable {
	return &ConnTable{conns: make(map[domain.ConnID]core.SignalConnection)}
}

func (t *ConnTable) Bind(id domain.ConnID, conn core.SignalConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[id] = conn
	log.Info().Str("module", "app.conns").Str("conn", string(id)).Msg("bound connection")
}

// Unbind reports whether the connection was still bound, so a disconnect
// that races an explicit close stays idempotent.
func (t *ConnTable) Unbind(id domain.ConnID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[id]; !ok {
		return false
	}
	delete(t.conns, id)
	log.Info().Str("module", "app.conns").Str("conn", string(id)).Msg("unbound connection")
	return true
}

func (t *ConnTable) Get(id domain.ConnID) (core.SignalConnection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}
