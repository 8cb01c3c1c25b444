// Package app drives per-connection sessions and routes protocol frames
// between them via the core registry and directory.
package app

import (
	"context"

	"github.com/mismatch-chat/relay/internal/domain"
)

// Store is the persistence collaborator. All calls may block; callers must
// never invoke them while holding the registry lock. Failures degrade the
// feature (a live operation still succeeds), they never tear a session down.
type Store interface {
	CreateUser(ctx context.Context, name string) (int64, error)
	// FindUserByName returns (nil, nil) when no such user exists.
	FindUserByName(ctx context.Context, name string) (*domain.User, error)
	UserByID(ctx context.Context, id int64) (*domain.User, error)

	CreateRoom(ctx context.Context, name string, roomType domain.RoomType, passwordHash string, creatorID int64) (int64, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	JoinRoom(ctx context.Context, roomID, userID int64, role string) error

	SaveMessage(ctx context.Context, roomID, userID int64, text string) (int64, error)
	// RoomMessages returns up to limit most recent messages for the room.
	RoomMessages(ctx context.Context, roomID int64, limit int) ([]domain.StoredMessage, error)
}
