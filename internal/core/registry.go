package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/domain"
)

// Registry is the single source of truth for room membership.
// Mutations on one room are serialized by that room's own mutex; the
// registry-level lock only guards the room map, so operations on
// different rooms proceed independently.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

// roomState never leaves this package. It never closes adapter-owned
// transport resources.
type roomState struct {
	mu      sync.Mutex
	members map[domain.ConnID]domain.Participant
	// gone is set under mu when the room is deleted from the map; a
	// goroutine holding a stale pointer must recheck it and retry.
	gone bool
}

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

// Removal reports one room a disconnecting participant was removed from.
type Removal struct {
	Room      domain.RoomID
	Remaining []domain.Participant
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*roomState)}
}

// lockRoom returns the room locked and live, creating it if asked.
// Returns nil if the room does not exist and create is false.
func (r *Registry) lockRoom(id domain.RoomID, create bool) *roomState {
	for {
		r.mu.RLock()
		rs, ok := r.rooms[id]
		r.mu.RUnlock()

		if !ok {
			if !create {
				return nil
			}
			r.mu.Lock()
			if rs, ok = r.rooms[id]; !ok {
				rs = &roomState{members: make(map[domain.ConnID]domain.Participant)}
				r.rooms[id] = rs
				log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
			}
			r.mu.Unlock()
		}

		rs.mu.Lock()
		if rs.gone {
			// Lost the race against the last leave; the map entry is fresh
			// or absent now, take it from the top.
			rs.mu.Unlock()
			continue
		}
		return rs
	}
}

// dropIfEmptyLocked deletes the room once its member set empties.
// Caller holds rs.mu. No dangling empty rooms survive this.
func (r *Registry) dropIfEmptyLocked(id domain.RoomID, rs *roomState) {
	if len(rs.members) != 0 {
		return
	}
	rs.gone = true
	r.mu.Lock()
	if r.rooms[id] == rs {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room deleted")
}

func snapshotLocked(rs *roomState) []domain.Participant {
	out := make([]domain.Participant, 0, len(rs.members))
	for _, p := range rs.members {
		out = append(out, p)
	}
	return out
}

// Join adds the participant, creating the room if absent, and returns the
// full membership set after the join. A second join from the same
// connection fails with domain.ErrDuplicateParticipant and mutates nothing.
func (r *Registry) Join(roomID domain.RoomID, p domain.Participant) ([]domain.Participant, error) {
	rs := r.lockRoom(roomID, true)
	defer rs.mu.Unlock()

	if _, exists := rs.members[p.ID]; exists {
		return nil, domain.ErrDuplicateParticipant
	}
	rs.members[p.ID] = p
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Str("conn", string(p.ID)).Msg("participant joined")
	return snapshotLocked(rs), nil
}

// Leave removes the participant and reports whether it was present.
// A leave for an unknown room or participant is a no-op, not an error.
// The room is deleted when the remaining set is empty.
func (r *Registry) Leave(roomID domain.RoomID, id domain.ConnID) ([]domain.Participant, bool) {
	rs := r.lockRoom(roomID, false)
	if rs == nil {
		return nil, false
	}
	defer rs.mu.Unlock()

	if _, ok := rs.members[id]; !ok {
		return snapshotLocked(rs), false
	}
	delete(rs.members, id)
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Str("conn", string(id)).Msg("participant left")
	remaining := snapshotLocked(rs)
	r.dropIfEmptyLocked(roomID, rs)
	return remaining, true
}

// SetStreamActive flips the participant's stream flag. Best effort: a
// missing room or participant returns false with no mutation.
func (r *Registry) SetStreamActive(roomID domain.RoomID, id domain.ConnID, active bool) bool {
	rs := r.lockRoom(roomID, false)
	if rs == nil {
		return false
	}
	defer rs.mu.Unlock()

	p, ok := rs.members[id]
	if !ok {
		return false
	}
	p.StreamActive = active
	rs.members[id] = p
	return true
}

// DisconnectEverywhere removes the connection from every room it is a
// member of. In practice a socket sits in one room, but the contract
// supports more.
func (r *Registry) DisconnectEverywhere(id domain.ConnID) []Removal {
	r.mu.RLock()
	type entry struct {
		id domain.RoomID
		rs *roomState
	}
	all := make([]entry, 0, len(r.rooms))
	for roomID, rs := range r.rooms {
		all = append(all, entry{roomID, rs})
	}
	r.mu.RUnlock()

	var removals []Removal
	for _, e := range all {
		e.rs.mu.Lock()
		if e.rs.gone {
			e.rs.mu.Unlock()
			continue
		}
		if _, ok := e.rs.members[id]; !ok {
			e.rs.mu.Unlock()
			continue
		}
		delete(e.rs.members, id)
		removals = append(removals, Removal{Room: e.id, Remaining: snapshotLocked(e.rs)})
		r.dropIfEmptyLocked(e.id, e.rs)
		e.rs.mu.Unlock()
	}
	if len(removals) > 0 {
		log.Info().Str("module", "core.registry").Str("conn", string(id)).Int("rooms", len(removals)).Msg("disconnected everywhere")
	}
	return removals
}

// Snapshot returns a point-in-time copy of the membership set.
func (r *Registry) Snapshot(roomID domain.RoomID) ([]domain.Participant, bool) {
	rs := r.lockRoom(roomID, false)
	if rs == nil {
		return nil, false
	}
	defer rs.mu.Unlock()
	return snapshotLocked(rs), true
}

// Rooms lists live rooms with their member counts.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	type entry struct {
		id domain.RoomID
		rs *roomState
	}
	all := make([]entry, 0, len(r.rooms))
	for roomID, rs := range r.rooms {
		all = append(all, entry{roomID, rs})
	}
	r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(all))
	for _, e := range all {
		e.rs.mu.Lock()
		if !e.rs.gone {
			out = append(out, RoomInfo{ID: e.id, MemberCount: len(e.rs.members)})
		}
		e.rs.mu.Unlock()
	}
	return out
}
