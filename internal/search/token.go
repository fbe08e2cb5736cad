package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxTokenLen is the largest payload the chat channel accepts on a button.
const MaxTokenLen = 64

const tokenPrefix = "sr:"

var (
	// ErrTokenDecode is returned for any payload that is not an encoded token.
	ErrTokenDecode = errors.New("search: malformed navigation token")
	// ErrTokenTooLong is returned when an encoded token exceeds MaxTokenLen.
	ErrTokenTooLong = errors.New("search: navigation token too long")
)

// Direction is the navigation step a token requests.
type Direction string

const (
	DirectionPrev Direction = "prev"
	DirectionNext Direction = "next"
)

// Token is the state a navigation button carries: the page it was rendered on,
// the step requested, and the query it belongs to.
type Token struct {
	Direction Direction
	Page      int
	Query     string
	RoomCode  string
}

// IsToken reports whether payload looks like a navigation token, without
// validating it.
func IsToken(payload string) bool {
	return strings.HasPrefix(payload, tokenPrefix)
}

// EncodeToken serializes t as sr:<dir>:<page>:<len>:<room>:<len>:<query>.
// Room and query are length-prefixed, so they may contain any byte including
// the separator.
func EncodeToken(t Token) (string, error) {
	d, err := directionCode(t.Direction)
	if err != nil {
		return "", err
	}
	if t.Page < 0 {
		return "", fmt.Errorf("search: negative page %d", t.Page)
	}
	s := fmt.Sprintf("%s%c:%d:%d:%s:%d:%s", tokenPrefix, d, t.Page, len(t.RoomCode), t.RoomCode, len(t.Query), t.Query)
	if len(s) > MaxTokenLen {
		return "", ErrTokenTooLong
	}
	return s, nil
}

// DecodeToken is the exact inverse of EncodeToken. Anything else yields
// ErrTokenDecode.
func DecodeToken(s string) (Token, error) {
	rest, ok := strings.CutPrefix(s, tokenPrefix)
	if !ok || len(rest) < 2 || rest[1] != ':' {
		return Token{}, ErrTokenDecode
	}
	var t Token
	switch rest[0] {
	case 'p':
		t.Direction = DirectionPrev
	case 'n':
		t.Direction = DirectionNext
	default:
		return Token{}, ErrTokenDecode
	}
	rest = rest[2:]

	page, rest, err := readNumber(rest)
	if err != nil {
		return Token{}, err
	}
	room, rest, err := readField(rest)
	if err != nil {
		return Token{}, err
	}
	if !strings.HasPrefix(rest, ":") {
		return Token{}, ErrTokenDecode
	}
	query, rest, err := readField(rest[1:])
	if err != nil {
		return Token{}, err
	}
	if rest != "" {
		return Token{}, ErrTokenDecode
	}
	t.Page, t.RoomCode, t.Query = page, room, query
	return t, nil
}

func directionCode(d Direction) (byte, error) {
	switch d {
	case DirectionPrev:
		return 'p', nil
	case DirectionNext:
		return 'n', nil
	default:
		return 0, fmt.Errorf("search: unknown direction %q", d)
	}
}

// readNumber consumes a canonical decimal followed by ':'.
func readNumber(s string) (int, string, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i > 9 {
		return 0, "", ErrTokenDecode
	}
	digits := s[:i]
	if len(digits) > 1 && digits[0] == '0' {
		return 0, "", ErrTokenDecode
	}
	for j := 0; j < len(digits); j++ {
		if digits[j] < '0' || digits[j] > '9' {
			return 0, "", ErrTokenDecode
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, "", ErrTokenDecode
	}
	return n, s[i+1:], nil
}

// readField consumes <len>:<value>.
func readField(s string) (string, string, error) {
	n, rest, err := readNumber(s)
	if err != nil {
		return "", "", err
	}
	if n > len(rest) {
		return "", "", ErrTokenDecode
	}
	return rest[:n], rest[n:], nil
}
