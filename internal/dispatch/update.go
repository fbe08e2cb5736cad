// Package dispatch turns channel updates into bot events and runs them with
// per-user ordering.
package dispatch

import (
	"strings"

	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/integrations/telegram"
	"studyroom-bot/internal/usecase"
)

// ToEvent converts an update into a bot event. ok is false for updates the
// bot does not act on: anonymous senders, other bots, and commands addressed
// to a different bot.
func ToEvent(u telegram.Update, botUsername string) (usecase.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From.IsBot {
			return usecase.Event{}, false
		}
		ev := usecase.Event{
			UpdateID:     u.UpdateID,
			UserID:       cq.From.ID,
			Username:     cq.From.Username,
			FirstName:    cq.From.FirstName,
			CallbackID:   cq.ID,
			CallbackData: cq.Data,
		}
		if cq.Message != nil {
			ev.ChatID = cq.Message.Chat.ID
			ev.Private = cq.Message.Chat.IsPrivate()
			ev.MessageID = cq.Message.MessageID
		}
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot {
		return usecase.Event{}, false
	}
	ev := usecase.Event{
		UpdateID:   u.UpdateID,
		UserID:     m.From.ID,
		Username:   m.From.Username,
		FirstName:  m.From.FirstName,
		ChatID:     m.Chat.ID,
		Private:    m.Chat.IsPrivate(),
		MessageID:  m.MessageID,
		Text:       m.Text,
		Caption:    m.Caption,
		Attachment: attachment(m),
	}
	if cmd, args, isCmd := parseCommand(m.Text); isCmd {
		name, target, mentioned := strings.Cut(cmd, "@")
		if mentioned && botUsername != "" && !strings.EqualFold(target, botUsername) {
			return usecase.Event{}, false
		}
		ev.Command = strings.ToLower(name)
		ev.Args = args
	}
	if r := m.ReplyToMessage; r != nil {
		ev.Reply = &usecase.Quoted{
			MessageID:  r.MessageID,
			Text:       r.Text,
			Caption:    r.Caption,
			Attachment: attachment(r),
		}
	}
	return ev, true
}

// parseCommand splits "/cmd@bot args" into "cmd@bot" and "args".
func parseCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	cmd, args, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(cmd, "\n\t"); i >= 0 {
		args = cmd[i+1:] + " " + args
		cmd = cmd[:i]
	}
	if cmd == "" {
		return "", "", false
	}
	return cmd, strings.TrimSpace(args), true
}

func attachment(m *telegram.Message) *usecase.Attachment {
	if d := m.Document; d != nil {
		return &usecase.Attachment{
			FileID:   d.FileID,
			Kind:     domain.FileKindDocument,
			Name:     d.FileName,
			MimeType: d.MimeType,
			Size:     d.FileSize,
		}
	}
	if len(m.Photo) == 0 {
		return nil
	}
	best := m.Photo[0]
	for _, p := range m.Photo[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return &usecase.Attachment{
		FileID: best.FileID,
		Kind:   domain.FileKindPhoto,
		Size:   best.FileSize,
	}
}
