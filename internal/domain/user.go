// Package domain holds the persisted entities shared by storage and routing.
package domain

import (
	"errors"
	"net/url"
	"time"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// AnonymousName is used for connections that attach without a username.
const AnonymousName = "Anonymous"

// User is the persisted user record. ID is zero until the store assigns one.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

// AvatarURL builds the ui-avatars.com URL stamped on outbound frames.
func AvatarURL(username string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(username) + "&background=random"
}
