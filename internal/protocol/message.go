// Package protocol defines the JSON frames exchanged with clients.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType tags every frame. The set is closed: the router dispatches on
// it explicitly and logs anything it does not know.
type MessageType string

const (
	TypeChat       MessageType = "chat"
	TypeJoin       MessageType = "join"
	TypeLeave      MessageType = "leave"
	TypeTyping     MessageType = "typing"
	TypeStopTyping MessageType = "stop_typing"
	TypeUserList   MessageType = "user_list"
	TypeRoomList   MessageType = "room_list"
	TypeJoinRoom   MessageType = "join_room"
	TypeLeaveRoom  MessageType = "leave_room"
	TypeCreateRoom MessageType = "create_room"
	TypeRoomJoined MessageType = "room_joined"
	TypeRoomLeft   MessageType = "room_left"
	TypeError      MessageType = "error"
)

// Message is the wire envelope. Timestamps marshal as RFC3339.
type Message struct {
	Type      MessageType `json:"message_type"`
	User      string      `json:"user"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Avatar    string      `json:"avatar"`
	Users     []string    `json:"users,omitempty"`
	RoomID    *int64      `json:"room_id,omitempty"`
	Rooms     []RoomInfo  `json:"rooms,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// RoomInfo is the client-facing room summary carried by room_list frames.
type RoomInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	RoomType    string `json:"room_type"`
	MemberCount int    `json:"member_count"`
	IsProtected bool   `json:"is_protected"`
}

// CreateRoomCommand rides inside the text field of a create_room frame.
type CreateRoomCommand struct {
	Name     string `json:"name"`
	RoomType string `json:"room_type"`
	Password string `json:"password,omitempty"`
}

// JoinRoomCommand rides inside the text field of a join_room frame.
// Password is accepted but not verified at join time.
type JoinRoomCommand struct {
	RoomID   int64  `json:"room_id"`
	Password string `json:"password,omitempty"`
}

// Encode marshals m for delivery; the router treats a marshal failure as a
// dropped frame, never a closed connection.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
