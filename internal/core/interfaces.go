package core

// Frame is an encoded signaling message ready for the wire.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full outbound buffer is an error, not a stall.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
