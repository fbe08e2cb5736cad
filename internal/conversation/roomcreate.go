package conversation

import (
	"context"
	"html"
	"strings"
	"unicode/utf8"
)

// KindCreateRoom is the room creation workflow.
const KindCreateRoom Kind = "create_room"

const (
	StateAwaitingName        State = "awaiting_name"
	StateAwaitingDescription State = "awaiting_description"
	StateCommitted           State = "committed"
)

const (
	FieldRoomName        = "name"
	FieldRoomDescription = "description"
	// SkipCommand leaves the description empty.
	SkipCommand = "skip"

	maxRoomNameLen        = 64
	maxRoomDescriptionLen = 500
)

// RoomCreator persists a new room owned by userID and returns the text
// announcing it.
type RoomCreator func(ctx context.Context, userID int64, name, description string) (string, error)

// NewRoomCreation builds the AwaitingName -> AwaitingDescription -> Committed
// workflow. create runs when the workflow commits.
func NewRoomCreation(create RoomCreator) (*Workflow, error) {
	var commit CommitFunc
	if create != nil {
		commit = func(ctx context.Context, userID int64, f Fields) (string, error) {
			name, ok := f.Get(FieldRoomName)
			if !ok || strings.TrimSpace(name) == "" {
				return "", ErrSessionInconsistent
			}
			desc, _ := f.Get(FieldRoomDescription)
			return create(ctx, userID, name, desc)
		}
	}
	return NewWorkflow(Definition{
		Kind:       KindCreateRoom,
		States:     []State{StateAwaitingName, StateAwaitingDescription, StateCommitted},
		Commit:     commit,
		CancelText: "❌ Room creation cancelled.",
		Steps: map[State]Step{
			StateAwaitingName: {
				Field: FieldRoomName,
				Prompt: func(Fields) string {
					return "🏫 <b>Create a new study room</b>\n\nPlease send the <b>name</b> of your room.\nSend /cancel to abort."
				},
				Reprompt: "Please send a room name as plain text (up to 64 characters), or /cancel.",
				Accept: func(in Input) (string, State, bool) {
					name, ok := plainText(in, maxRoomNameLen)
					return name, StateAwaitingDescription, ok
				},
				Next: []State{StateAwaitingDescription},
			},
			StateAwaitingDescription: {
				Field: FieldRoomDescription,
				Prompt: func(f Fields) string {
					name, _ := f.Get(FieldRoomName)
					return "Room name: <b>" + html.EscapeString(name) + "</b>\n\nNow send a short <b>description</b>, or /skip to leave it empty."
				},
				Reprompt: "Please send a description as plain text (up to 500 characters), /skip or /cancel.",
				Accept: func(in Input) (string, State, bool) {
					if in.Command == SkipCommand {
						return "", StateCommitted, true
					}
					desc, ok := plainText(in, maxRoomDescriptionLen)
					return desc, StateCommitted, ok
				},
				Next: []State{StateCommitted},
			},
		},
	})
}

func plainText(in Input, maxLen int) (string, bool) {
	if in.Command != "" {
		return "", false
	}
	t := strings.TrimSpace(in.Text)
	if t == "" || utf8.RuneCountInString(t) > maxLen {
		return "", false
	}
	return t, true
}
