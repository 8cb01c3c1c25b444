package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/mismatch-chat/relay/internal/core"
	"github.com/mismatch-chat/relay/internal/domain"
	"github.com/mismatch-chat/relay/internal/protocol"
)

const systemUser = "system"

// DefaultHistoryLimit bounds history replay on room join.
const DefaultHistoryLimit = 50

// Router classifies inbound frames and fans them out via the registry and
// directory. One Router serves every session.
type Router struct {
	Registry     *core.Registry
	Rooms        *core.Directory
	Store        Store
	Resolver     *Resolver
	HistoryLimit int
}

func NewRouter(reg *core.Registry, rooms *core.Directory, store Store) *Router {
	return &Router{
		Registry:     reg,
		Rooms:        rooms,
		Store:        store,
		Resolver:     NewResolver(store),
		HistoryLimit: DefaultHistoryLimit,
	}
}

// Attach registers a connection, runs the welcome sequence and kicks off
// identity resolution. The caller owns the returned session's Run loop.
func (r *Router) Attach(ctx context.Context, name string, sink core.Sink) *Session {
	if name == "" {
		name = domain.AnonymousName
	}

	// User list as it stood before the newcomer.
	present := lo.Map(r.Registry.Snapshot(core.All), func(h core.Handle, _ int) string {
		return h.Name
	})

	id := r.Registry.Register(name, sink)
	s := &Session{
		id:       id,
		name:     name,
		state:    StateAnonymous,
		ctx:      ctx,
		frames:   make(chan core.Frame, 16),
		identity: make(chan IdentityResult, 1),
		router:   r,
	}

	userList := r.systemMessage(protocol.TypeUserList, "Current users")
	userList.Users = present
	r.deliverTo(id, userList)

	roomList := r.systemMessage(protocol.TypeRoomList, "Available rooms")
	roomList.Rooms = r.roomInfos()
	r.deliverTo(id, roomList)

	r.fanout(core.All, r.userMessage(protocol.TypeJoin, name, fmt.Sprintf("%s joined the chat", name)))

	r.Resolver.Resolve(ctx, name, s.identity)
	return s
}

// Disconnect tears the session down: room leave notice (if any), registry
// removal, then a leave notice to everyone remaining. Idempotent.
func (r *Router) Disconnect(s *Session) {
	if s.state == StateDisconnected {
		return
	}
	if s.state == StateInRoom {
		roomID := s.roomID
		left := r.userMessage(protocol.TypeRoomLeft, s.name, fmt.Sprintf("%s left the room", s.name))
		left.RoomID = &roomID
		r.fanout(func(h core.Handle) bool { return h.RoomID == roomID && h.ID != s.id }, left)
		r.Rooms.Leave(roomID, s.id)
		s.roomID = 0
	}
	r.Registry.Unregister(s.id)
	r.fanout(core.All, r.userMessage(protocol.TypeLeave, s.name, fmt.Sprintf("%s left the chat", s.name)))
	s.state = StateDisconnected
	log.Info().Str("module", "app.router").Str("conn", string(s.id)).Msg("session closed")
}

// HandleFrame classifies one inbound frame. Malformed frames are logged and
// dropped; the connection stays alive.
func (r *Router) HandleFrame(s *Session, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Str("module", "app.router").Str("conn", string(s.id)).Err(err).Msg("malformed frame dropped")
		return
	}

	// Sender identity is never taken from the client.
	msg.User = s.name
	msg.Timestamp = time.Now().UTC()
	msg.Avatar = domain.AvatarURL(s.name)

	switch msg.Type {
	case protocol.TypeChat:
		r.handleChat(s, msg)
	case protocol.TypeTyping, protocol.TypeStopTyping:
		r.handleTyping(s, msg)
	case protocol.TypeCreateRoom:
		r.handleCreateRoom(s, msg)
	case protocol.TypeJoinRoom:
		r.handleJoinRoom(s, msg)
	case protocol.TypeLeaveRoom:
		r.handleLeaveRoom(s)
	case protocol.TypeJoin, protocol.TypeLeave, protocol.TypeUserList, protocol.TypeRoomList,
		protocol.TypeRoomJoined, protocol.TypeRoomLeft, protocol.TypeError:
		// Server-originated types are not valid inbound.
		log.Warn().Str("module", "app.router").Str("conn", string(s.id)).Str("type", string(msg.Type)).Msg("server-only frame type from client")
	default:
		log.Warn().Str("module", "app.router").Str("conn", string(s.id)).Str("type", string(msg.Type)).Msg("unknown frame type")
	}
}

// fanout encodes once and delivers to every matching connection.
// Delivery is fire-and-forget per recipient.
func (r *Router) fanout(pred core.Predicate, msg protocol.Message) {
	frame, err := msg.Encode()
	if err != nil {
		log.Error().Str("module", "app.router").Err(err).Msg("encode failed, frame dropped")
		return
	}
	for _, h := range r.Registry.Snapshot(pred) {
		h.Deliver(frame)
	}
}

func (r *Router) deliverTo(id core.ConnID, msg protocol.Message) {
	frame, err := msg.Encode()
	if err != nil {
		log.Error().Str("module", "app.router").Err(err).Msg("encode failed, frame dropped")
		return
	}
	r.Registry.Deliver(id, frame)
}

func (r *Router) sendError(s *Session, text string, cause error) {
	msg := r.systemMessage(protocol.TypeError, text)
	if cause != nil {
		msg.Error = cause.Error()
	}
	r.deliverTo(s.id, msg)
}

func (r *Router) systemMessage(t protocol.MessageType, text string) protocol.Message {
	return r.userMessage(t, systemUser, text)
}

func (r *Router) userMessage(t protocol.MessageType, user, text string) protocol.Message {
	return protocol.Message{
		Type:      t,
		User:      user,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Avatar:    domain.AvatarURL(user),
	}
}

func (r *Router) roomInfos() []protocol.RoomInfo {
	return lo.Map(r.Rooms.List(), func(e core.Entry, _ int) protocol.RoomInfo {
		return protocol.RoomInfo{
			ID:          e.Room.ID,
			Name:        e.Room.Name,
			RoomType:    string(e.Room.Type),
			MemberCount: e.MemberCount,
			IsProtected: e.Room.IsProtected(),
		}
	})
}
