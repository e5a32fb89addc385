// Package domain contains entities without logic, just meta-data.
package domain

import "unicode/utf8"

const MaxDisplayNameLen = 64

// ConnID identifies one live socket. The transport assigns it on connect
// and never reuses it after disconnect.
type ConnID string

// Participant is one connection's membership record within a room.
type Participant struct {
	ID           ConnID `json:"id"`
	DisplayName  string `json:"displayName"`
	StreamActive bool   `json:"streamActive"`
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id ConnID, displayName string) Participant {
	if len(displayName) > MaxDisplayNameLen {
		// Cut on a rune boundary so the name stays valid UTF-8.
		cut := MaxDisplayNameLen
		for cut > 0 && !utf8.RuneStart(displayName[cut]) {
			cut--
		}
		displayName = displayName[:cut]
	}
	return Participant{ID: id, DisplayName: displayName}
}
