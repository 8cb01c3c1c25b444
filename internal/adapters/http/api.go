package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/mismatch-chat/relay/internal/auth"
	"github.com/mismatch-chat/relay/internal/core"
	"github.com/mismatch-chat/relay/internal/domain"
	"github.com/mismatch-chat/relay/internal/storage"
)

type CreateUserRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type CreateRoomRequest struct {
	Name     string `json:"name"`
	RoomType string `json:"room_type"`
	Password string `json:"password,omitempty"`
}

type JoinRoomRequest struct {
	UserID   int64  `json:"user_id"`
	RoomID   int64  `json:"room_id"`
	Password string `json:"password,omitempty"`
}

type ApiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Handlers serves the admin REST surface. Rooms created here are tracked in
// the live directory so websocket sessions can join them immediately.
type Handlers struct {
	Store        *storage.Store
	Rooms        *core.Directory
	HistoryLimit int
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, ApiResponse{Success: false, Message: msg})
}

func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateUsername(req.Username); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.Store.FindUserByName(c.Request.Context(), req.Username)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	if existing != nil {
		fail(c, http.StatusBadRequest, "Username already exists")
		return
	}

	user := domain.User{Username: req.Username, AvatarURL: req.AvatarURL}
	if user.AvatarURL == "" {
		user.AvatarURL = domain.AvatarURL(req.Username)
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to create user: %v", err))
			return
		}
		user.PasswordHash = hash
	}

	id, err := h.Store.CreateUserRecord(c.Request.Context(), user)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to create user: %v", err))
		return
	}
	user.ID = id
	user.PasswordHash = ""
	c.JSON(http.StatusOK, ApiResponse{Success: true, Message: "User created successfully", Data: user})
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid user id")
		return
	}
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	passwordHash := ""
	if req.RoomType == string(domain.RoomProtected) && req.Password != "" {
		passwordHash, err = auth.HashPassword(req.Password)
		if err != nil {
			fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to create room: %v", err))
			return
		}
	}

	roomType := domain.RoomType(req.RoomType)
	if roomType == "" {
		roomType = domain.RoomPublic
	}
	id, err := h.Store.CreateRoom(c.Request.Context(), req.Name, roomType, passwordHash, userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to create room: %v", err))
		return
	}

	// Creator becomes a durable admin member; a failure here does not fail
	// the request.
	if err := h.Store.JoinRoom(c.Request.Context(), id, userID, domain.RoleAdmin); err != nil {
		log.Warn().Str("module", "adapters.http").Int64("room", id).Err(err).Msg("admin membership not persisted")
	}

	room := domain.Room{ID: id, Name: req.Name, Type: roomType, PasswordHash: passwordHash, CreatedBy: userID}
	h.Rooms.Track(room)
	room.PasswordHash = ""
	c.JSON(http.StatusOK, ApiResponse{Success: true, Message: "Room created successfully", Data: room})
}

func (h *Handlers) GetRooms(c *gin.Context) {
	rooms, err := h.Store.ListRooms(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch rooms: %v", err))
		return
	}
	sanitized := lo.Map(rooms, func(r domain.Room, _ int) domain.Room {
		r.PasswordHash = ""
		return r
	})
	c.JSON(http.StatusOK, ApiResponse{Success: true, Data: sanitized})
}

// JoinRoom records durable membership. The password field is accepted but
// not verified; protected rooms are flagged, not enforced.
func (h *Handlers) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Store.JoinRoom(c.Request.Context(), req.RoomID, req.UserID, domain.RoleMember); err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to join room: %v", err))
		return
	}
	c.JSON(http.StatusOK, ApiResponse{Success: true, Message: "Joined room successfully"})
}

func (h *Handlers) GetRoomMessages(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid room id")
		return
	}
	msgs, err := h.Store.RoomMessages(c.Request.Context(), roomID, h.HistoryLimit)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch messages: %v", err))
		return
	}
	c.JSON(http.StatusOK, ApiResponse{Success: true, Data: msgs})
}
