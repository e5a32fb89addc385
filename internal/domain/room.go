package domain

// RoomID is caller-supplied and matched exactly; rooms come into being on
// first join and disappear when the last participant leaves.
type RoomID string
