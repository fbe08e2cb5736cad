package domain

import (
	"slices"
	"time"
)

const (
	// RoomCodeLength is the fixed length of every generated room code.
	RoomCodeLength = 8
	// RoomCodeAlphabet is the character set room codes are drawn from.
	RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Room is a coded collaboration space. Rooms are soft-deleted via Active so a
// code is never reissued.
type Room struct {
	Code            string
	Name            string
	Description     string
	OwnerID         int64
	Members         []int64
	LinkedChannelID int64
	Active          bool
	CreatedAt       time.Time
}

// HasMember reports whether userID is in the member set.
func (r Room) HasMember(userID int64) bool {
	return slices.Contains(r.Members, userID)
}

// IsLinked reports whether the room is bound to an external channel.
func (r Room) IsLinked() bool {
	return r.LinkedChannelID != 0
}

// ValidRoomCode reports whether code has the generated length and alphabet.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
