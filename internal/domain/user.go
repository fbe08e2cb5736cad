package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the single authorization flag carried by a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role name supplied by an operator.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("domain: invalid role %q", s)
	}
}

// User is a registered chat participant.
type User struct {
	UserID          int64
	Username        string
	FirstName       string
	CurrentRoomCode string
	Role            Role
	CreatedAt       time.Time
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
