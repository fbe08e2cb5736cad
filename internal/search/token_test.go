package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []Token{
		{Direction: DirectionNext, Page: 0, Query: "algebra", RoomCode: "ABCD1234"},
		{Direction: DirectionPrev, Page: 12, Query: "linear algebra", RoomCode: "ZZ99ZZ99"},
		{Direction: DirectionNext, Page: 3, Query: "a:b:c", RoomCode: "ABCD1234"},
		{Direction: DirectionNext, Page: 1, Query: "search_next_1_x_y", RoomCode: "ABCD1234"},
		{Direction: DirectionPrev, Page: 2, Query: "12:ABCD", RoomCode: "AB:D1234"},
		{Direction: DirectionNext, Page: 0, Query: "física", RoomCode: "ABCD1234"},
	}
	for _, tc := range cases {
		s, err := EncodeToken(tc)
		require.NoError(t, err, "token=%+v", tc)
		require.LessOrEqual(t, len(s), MaxTokenLen)
		require.True(t, IsToken(s))

		got, err := DecodeToken(s)
		require.NoError(t, err, "payload=%q", s)
		require.Equal(t, tc, got)
	}
}

func TestEncodeToken_Format(t *testing.T) {
	s, err := EncodeToken(Token{Direction: DirectionNext, Page: 3, Query: "algebra", RoomCode: "ABCD1234"})
	require.NoError(t, err)
	require.Equal(t, "sr:n:3:8:ABCD1234:7:algebra", s)
}

func TestEncodeToken_TooLong(t *testing.T) {
	_, err := EncodeToken(Token{Direction: DirectionNext, Page: 1, Query: strings.Repeat("q", 60), RoomCode: "ABCD1234"})
	require.ErrorIs(t, err, ErrTokenTooLong)
}

func TestEncodeToken_InvalidInput(t *testing.T) {
	_, err := EncodeToken(Token{Direction: "sideways", Query: "q", RoomCode: "ABCD1234"})
	require.Error(t, err)

	_, err = EncodeToken(Token{Direction: DirectionNext, Page: -1, Query: "q", RoomCode: "ABCD1234"})
	require.Error(t, err)
}

func TestDecodeToken_Malformed(t *testing.T) {
	bad := []string{
		"",
		"search_next_1_algebra_ABCD1234",
		"sr:",
		"sr:x:1:8:ABCD1234:1:q",
		"sr:n1:8:ABCD1234:1:q",
		"sr:n:-1:8:ABCD1234:1:q",
		"sr:n:01:8:ABCD1234:1:q",
		"sr:n:1:9:ABCD1234:1:q",
		"sr:n:1:8:ABCD1234:2:q",
		"sr:n:1:8:ABCD1234:1:qq",
		"sr:n:1:8:ABCD12341:q",
		"sr:n:a:8:ABCD1234:1:q",
		"sr:n:1:8:ABCD1234",
	}
	for _, s := range bad {
		_, err := DecodeToken(s)
		require.ErrorIs(t, err, ErrTokenDecode, "payload=%q", s)
	}
}
