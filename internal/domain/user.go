// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// ParseUserID trims and validates an identity coming from the outside world.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

func (u *User) SetDisplayName(name string) error {
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.DisplayName = name
	return nil
}
