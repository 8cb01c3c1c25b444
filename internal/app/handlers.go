package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mismatch-chat/relay/internal/auth"
	"github.com/mismatch-chat/relay/internal/core"
	"github.com/mismatch-chat/relay/internal/domain"
	"github.com/mismatch-chat/relay/internal/protocol"
)

// Returned while identity resolution is still in flight; room operations are
// rejected rather than queued so the frame order guarantee holds.
var errIdentityPending = errors.New("identity not resolved yet, try again")

// handleChat broadcasts to the current room when the session is in one,
// otherwise to every connection. Room messages from identified senders are
// persisted; persistence failure only costs the durable copy.
func (r *Router) handleChat(s *Session, msg protocol.Message) {
	if s.state != StateInRoom {
		r.fanout(core.All, msg)
		return
	}

	roomID := s.roomID
	msg.RoomID = &roomID
	r.fanout(core.InRoom(roomID), msg)

	if s.userID == 0 {
		return
	}
	userID := s.userID
	text := msg.Text
	go func() {
		if _, err := r.Store.SaveMessage(s.ctx, roomID, userID, text); err != nil {
			log.Warn().Str("module", "app.router").Int64("room", roomID).Err(err).Msg("message not persisted")
			r.sendError(s, "failed to save message", err)
		}
	}()
}

// handleTyping relays typing indicators to everyone except the sender.
func (r *Router) handleTyping(s *Session, msg protocol.Message) {
	r.fanout(core.NotSelf(s.id), msg)
}

func (r *Router) handleCreateRoom(s *Session, msg protocol.Message) {
	var cmd protocol.CreateRoomCommand
	if err := json.Unmarshal([]byte(msg.Text), &cmd); err != nil {
		log.Warn().Str("module", "app.router").Str("conn", string(s.id)).Err(err).Msg("bad create_room command")
		return
	}
	if s.state == StateAnonymous || s.state == StateConnecting {
		r.sendError(s, "cannot create room", errIdentityPending)
		return
	}

	roomType := domain.RoomType(cmd.RoomType)
	if roomType == "" {
		roomType = domain.RoomPublic
	}
	passwordHash := ""
	if roomType == domain.RoomProtected && cmd.Password != "" {
		h, err := auth.HashPassword(cmd.Password)
		if err != nil {
			r.sendError(s, "failed to create room", err)
			return
		}
		passwordHash = h
	}

	meta := domain.Room{
		Name:         cmd.Name,
		Type:         roomType,
		PasswordHash: passwordHash,
		CreatedBy:    s.userID,
		CreatedAt:    time.Now().UTC(),
	}

	id, err := r.Store.CreateRoom(s.ctx, meta.Name, meta.Type, meta.PasswordHash, meta.CreatedBy)
	if err != nil {
		// Degrade: the live room exists, only the durable copy is skipped.
		roomID := r.Rooms.Track(meta)
		log.Warn().Str("module", "app.router").Int64("room", roomID).Err(err).Msg("room not persisted")
		r.sendError(s, "room not persisted", err)
	} else {
		meta.ID = id
		r.Rooms.Track(meta)
		if err := r.Store.JoinRoom(s.ctx, id, s.userID, domain.RoleAdmin); err != nil {
			log.Warn().Str("module", "app.router").Int64("room", id).Err(err).Msg("admin membership not persisted")
		}
	}

	update := r.systemMessage(protocol.TypeRoomList, fmt.Sprintf("%s created a new room: %s", s.name, cmd.Name))
	update.Rooms = r.roomInfos()
	r.fanout(core.All, update)
}

func (r *Router) handleJoinRoom(s *Session, msg protocol.Message) {
	var cmd protocol.JoinRoomCommand
	if err := json.Unmarshal([]byte(msg.Text), &cmd); err != nil {
		log.Warn().Str("module", "app.router").Str("conn", string(s.id)).Err(err).Msg("bad join_room command")
		return
	}
	if s.state == StateAnonymous || s.state == StateConnecting {
		r.sendError(s, "cannot join room", errIdentityPending)
		return
	}

	// Switching rooms is leave-then-join, never a direct transition.
	if s.state == StateInRoom {
		r.handleLeaveRoom(s)
	}

	if _, ok := r.Rooms.Room(cmd.RoomID); !ok {
		r.sendError(s, "cannot join room", core.ErrUnknownRoom)
		return
	}
	if err := r.Rooms.Join(cmd.RoomID, s.id, domain.RoleMember); err != nil {
		r.sendError(s, "cannot join room", err)
		return
	}
	s.roomID = cmd.RoomID
	s.state = StateInRoom

	if err := r.Store.JoinRoom(s.ctx, cmd.RoomID, s.userID, domain.RoleMember); err != nil {
		log.Warn().Str("module", "app.router").Int64("room", cmd.RoomID).Err(err).Msg("membership not persisted")
		r.sendError(s, "membership not persisted", err)
	}

	r.replayHistory(s, cmd.RoomID)

	roomID := cmd.RoomID
	joined := r.userMessage(protocol.TypeRoomJoined, s.name, fmt.Sprintf("%s joined the room", s.name))
	joined.RoomID = &roomID
	r.fanout(core.InRoom(roomID), joined)
}

func (r *Router) handleLeaveRoom(s *Session) {
	if s.state != StateInRoom {
		return
	}
	roomID := s.roomID

	left := r.userMessage(protocol.TypeRoomLeft, s.name, fmt.Sprintf("%s left the room", s.name))
	left.RoomID = &roomID
	r.fanout(func(h core.Handle) bool { return h.RoomID == roomID && h.ID != s.id }, left)

	r.Rooms.Leave(roomID, s.id)
	s.roomID = 0
	s.state = StateIdentified
}

// replayHistory sends persisted room messages to the joining connection in
// chronological order, whatever order the store returned them in.
func (r *Router) replayHistory(s *Session, roomID int64) {
	msgs, err := r.Store.RoomMessages(s.ctx, roomID, r.HistoryLimit)
	if err != nil {
		log.Warn().Str("module", "app.router").Int64("room", roomID).Err(err).Msg("history unavailable")
		r.sendError(s, "history unavailable", err)
		return
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	names := make(map[int64]string)
	for _, m := range msgs {
		name, ok := names[m.SenderID]
		if !ok {
			name = r.senderName(s, m.SenderID)
			names[m.SenderID] = name
		}
		rid := m.RoomID
		r.deliverTo(s.id, protocol.Message{
			Type:      protocol.TypeChat,
			User:      name,
			Text:      m.Content,
			Timestamp: m.CreatedAt,
			Avatar:    domain.AvatarURL(name),
			RoomID:    &rid,
		})
	}
}

func (r *Router) senderName(s *Session, senderID int64) string {
	if u, err := r.Store.UserByID(s.ctx, senderID); err == nil && u != nil {
		return u.Username
	}
	return fmt.Sprintf("User_%d", senderID)
}
