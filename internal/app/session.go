package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mismatch-chat/relay/internal/core"
)

// State is the per-connection session state.
type State int

const (
	StateConnecting State = iota
	StateAnonymous
	StateIdentified
	StateInRoom
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateInRoom:
		return "in_room"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the state machine for one connection. All fields are owned by
// the Run goroutine: frames and identity results are funneled through its
// channels, so no field needs a lock.
type Session struct {
	id     core.ConnID
	name   string
	userID int64
	roomID int64
	state  State

	ctx      context.Context
	frames   chan core.Frame
	identity chan IdentityResult
	router   *Router
}

func (s *Session) ID() core.ConnID { return s.id }
func (s *Session) Name() string    { return s.name }
func (s *Session) State() State    { return s.state }
func (s *Session) UserID() int64   { return s.userID }
func (s *Session) RoomID() int64   { return s.roomID }

// Enqueue hands an inbound frame to the session loop. It may block until the
// loop catches up; frames from one connection are processed in order.
// Only the transport read loop may call it.
func (s *Session) Enqueue(data []byte) {
	s.frames <- core.Frame(data)
}

// CloseInput signals end of the inbound stream. Only the transport read loop
// (the sole producer) may call it.
func (s *Session) CloseInput() {
	close(s.frames)
}

// Run processes frames and identity results until the input closes or the
// context ends, then tears the session down.
func (s *Session) Run(ctx context.Context) {
	defer s.router.Disconnect(s)
	for {
		select {
		case data, ok := <-s.frames:
			if !ok {
				return
			}
			s.router.HandleFrame(s, data)
		case res := <-s.identity:
			s.applyIdentity(res)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) applyIdentity(res IdentityResult) {
	if res.Err != nil {
		// Stays Anonymous indefinitely; room operations will answer with
		// error frames instead of silently no-op-ing.
		log.Warn().Str("module", "app.session").Str("conn", string(s.id)).Err(res.Err).Msg("identity unresolved, staying anonymous")
		return
	}
	s.userID = res.UserID
	s.router.Registry.SetUser(s.id, res.UserID)
	if s.state == StateAnonymous {
		s.state = StateIdentified
	}
	log.Info().Str("module", "app.session").Str("conn", string(s.id)).Int64("user", res.UserID).Str("state", s.state.String()).Msg("identified")
}
