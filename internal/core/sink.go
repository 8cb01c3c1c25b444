// Package core owns the live-connection registry and the room directory.
// Both mutate under one lock so room membership can never desynchronize
// from connection liveness.
package core

import "errors"

// Frame is a raw outbound payload (already-encoded JSON).
type Frame []byte

// ConnID identifies one live connection for its lifetime.
type ConnID string

var (
	ErrBackpressure = errors.New("backpressure")
	ErrUnknownRoom  = errors.New("unknown room")
	ErrUnknownConn  = errors.New("unknown connection")
)

// Sink is the delivery handle for one connection.
// Owned by the adapter; the adapter must Close() it.
type Sink interface {
	TrySend(Frame) error
	Close()
}

// Handle is a point-in-time view of a registered connection. The sink inside
// stays valid for delivery even after the connection unregisters; sends to a
// closed sink are a silent no-op.
type Handle struct {
	ID     ConnID
	Name   string
	UserID int64
	RoomID int64
	sink   Sink
}

// Deliver is best-effort: a full or closed sink drops the frame.
func (h Handle) Deliver(f Frame) {
	if h.sink != nil {
		_ = h.sink.TrySend(f)
	}
}

// Predicate filters registry snapshots.
type Predicate func(Handle) bool

func All(Handle) bool { return true }

func NotSelf(id ConnID) Predicate {
	return func(h Handle) bool { return h.ID != id }
}

func InRoom(roomID int64) Predicate {
	return func(h Handle) bool { return h.RoomID == roomID }
}

func Only(id ConnID) Predicate {
	return func(h Handle) bool { return h.ID == id }
}
