package domain

import "time"

type RoomType string

const (
	RoomPublic    RoomType = "public"
	RoomPrivate   RoomType = "private"
	RoomProtected RoomType = "protected"
)

// Member roles inside a room.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Room is persisted metadata. PasswordHash is declared for protected rooms
// but is not verified at join time; IsProtected() is surfaced to clients.
type Room struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Type         RoomType  `json:"room_type"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedBy    int64     `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r Room) IsProtected() bool { return r.PasswordHash != "" }
