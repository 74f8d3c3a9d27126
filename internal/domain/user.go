// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
	GuestUsername  = "guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewGuest is used when the connection carries no verified identity.
func NewGuest() *User {
	return &User{ID: UserID(uuid.NewString()), Username: GuestUsername}
}

// NewUser builds a user from an authenticated subject.
func NewUser(id UserID, username string) (*User, error) {
	if len(id) == 0 || len(id) > MaxUserIDLen {
		id = UserID(uuid.NewString())
	}
	u := &User{ID: id, Username: GuestUsername}
	if username == "" {
		return u, nil
	}
	if err := u.SetUsername(username); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}
