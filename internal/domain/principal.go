package domain

import (
	"errors"
	"strings"
)

// Role identifies which side of a conversation an actor is on.
type Role string

const (
	RoleUser    Role = "user"
	RoleCompany Role = "company"
)

// ErrInvalidRole is returned by ParseRole for anything but user/company.
var ErrInvalidRole = errors.New("invalid principal role")

// ParseRole normalizes s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleCompany:
		return RoleCompany, nil
	}
	return "", ErrInvalidRole
}

// Principal is the authenticated identity driving an operation. It is
// derived from authentication and never persisted.
type Principal struct {
	Kind Role   `json:"type"`
	ID   string `json:"id"`
}

// Valid reports whether both the kind and the id are set.
func (p Principal) Valid() bool {
	return (p.Kind == RoleUser || p.Kind == RoleCompany) && strings.TrimSpace(p.ID) != ""
}

// Key is a stable string form used for rate limiting, caching and logs.
func (p Principal) Key() string { return string(p.Kind) + ":" + p.ID }

const roomPrefix = "conversation_"

// RoomName maps a conversation id to its live-delivery room.
func RoomName(conversationID string) string { return roomPrefix + conversationID }
