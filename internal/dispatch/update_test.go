package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/integrations/telegram"
)

func TestToEventCommand(t *testing.T) {
	u := telegram.Update{
		UpdateID: 9,
		Message: &telegram.Message{
			MessageID: 3,
			From:      &telegram.User{ID: 42, FirstName: "Ada", Username: "ada"},
			Chat:      telegram.Chat{ID: -100, Type: telegram.ChatTypeSupergroup},
			Text:      "/Quiz@StudyBot  7 ",
			ReplyToMessage: &telegram.Message{
				MessageID: 2,
				Text:      "cell biology notes",
			},
		},
	}
	ev, ok := ToEvent(u, "studybot")
	require.True(t, ok)
	require.Equal(t, int64(9), ev.UpdateID)
	require.Equal(t, int64(42), ev.UserID)
	require.Equal(t, int64(-100), ev.ChatID)
	require.False(t, ev.Private)
	require.Equal(t, "quiz", ev.Command)
	require.Equal(t, "7", ev.Args)
	require.NotNil(t, ev.Reply)
	require.Equal(t, int64(2), ev.Reply.MessageID)
	require.Equal(t, "cell biology notes", ev.Reply.Text)
}

func TestToEventIgnoresOtherBotsCommands(t *testing.T) {
	u := telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: 1},
		Chat: telegram.Chat{ID: -5, Type: telegram.ChatTypeGroup},
		Text: "/start@OtherBot",
	}}
	_, ok := ToEvent(u, "studybot")
	require.False(t, ok)

	u.Message.From.IsBot = true
	u.Message.Text = "hello"
	_, ok = ToEvent(u, "studybot")
	require.False(t, ok)

	u.Message.From = nil
	_, ok = ToEvent(u, "studybot")
	require.False(t, ok)
}

func TestToEventPlainTextIsNotCommand(t *testing.T) {
	u := telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: 1},
		Chat: telegram.Chat{ID: 1, Type: telegram.ChatTypePrivate},
		Text: "Physics 101",
	}}
	ev, ok := ToEvent(u, "")
	require.True(t, ok)
	require.True(t, ev.Private)
	require.Empty(t, ev.Command)
	require.Equal(t, "Physics 101", ev.Text)

	u.Message.Text = "/"
	ev, ok = ToEvent(u, "")
	require.True(t, ok)
	require.Empty(t, ev.Command)
}

func TestToEventAttachments(t *testing.T) {
	u := telegram.Update{Message: &telegram.Message{
		From:    &telegram.User{ID: 1},
		Chat:    telegram.Chat{ID: 1, Type: telegram.ChatTypePrivate},
		Caption: "lecture",
		Photo: []telegram.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "large", Width: 1280, Height: 960, FileSize: 2048},
			{FileID: "medium", Width: 320, Height: 240},
		},
	}}
	ev, ok := ToEvent(u, "")
	require.True(t, ok)
	require.Equal(t, "lecture", ev.Caption)
	require.Equal(t, "large", ev.Attachment.FileID)
	require.Equal(t, domain.FileKindPhoto, ev.Attachment.Kind)
	require.Equal(t, int64(2048), ev.Attachment.Size)

	u.Message.Photo = nil
	u.Message.Document = &telegram.Document{FileID: "doc", FileName: "notes.txt", MimeType: "text/plain"}
	ev, _ = ToEvent(u, "")
	require.Equal(t, domain.FileKindDocument, ev.Attachment.Kind)
	require.Equal(t, "notes.txt", ev.Attachment.Name)
}

func TestToEventCallback(t *testing.T) {
	u := telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:   "cb-1",
		From: telegram.User{ID: 8, FirstName: "Lin"},
		Data: "sr:n:0:8:ABCD1234:1:x",
		Message: &telegram.Message{
			MessageID: 77,
			Chat:      telegram.Chat{ID: 8, Type: telegram.ChatTypePrivate},
		},
	}}
	ev, ok := ToEvent(u, "")
	require.True(t, ok)
	require.True(t, ev.IsCallback())
	require.Equal(t, int64(8), ev.UserID)
	require.Equal(t, int64(77), ev.MessageID)
	require.True(t, ev.Private)
	require.Equal(t, "sr:n:0:8:ABCD1234:1:x", ev.CallbackData)
}
