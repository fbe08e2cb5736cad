package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/search"
)

const expiredSearchText = "This search is no longer available. Run /search again."

func (b *Bot) search(ctx context.Context, ev Event) error {
	query := strings.TrimSpace(ev.Args)
	if query == "" {
		return b.reply(ctx, ev, "❌ Please provide a search query: /search text")
	}
	room, ok, err := b.roomOrNotice(ctx, ev)
	if !ok {
		return err
	}
	page, err := b.searcher.Page(ctx, room.Code, query, 0)
	if err != nil {
		return newError(ErrorInternal, "search", err)
	}
	if page.Total == 0 {
		return b.reply(ctx, ev, fmt.Sprintf("🔍 No results found for: <b>%s</b>", html.EscapeString(query)))
	}
	return b.replyWith(ctx, ev, pageText(page), pageKeyboard(page))
}

// handleCallback serves a navigation button press by editing the result
// message in place. The callback is always answered so the client stops
// its spinner.
func (b *Bot) handleCallback(ctx context.Context, ev Event) error {
	if !search.IsToken(ev.CallbackData) {
		return b.answer(ctx, ev, "Unknown action.")
	}
	tok, err := search.DecodeToken(ev.CallbackData)
	if err != nil {
		if ansErr := b.answer(ctx, ev, expiredSearchText); ansErr != nil {
			return ansErr
		}
		return newError(ErrorTokenDecode, "decode_token", err)
	}
	room, err := b.currentRoom(ctx, ev)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && room.Code != tok.RoomCode) {
		return b.answer(ctx, ev, expiredSearchText)
	}
	if err != nil {
		_ = b.answer(ctx, ev, "")
		return newError(ErrorInternal, "resolve_room", err)
	}
	page, err := b.searcher.Navigate(ctx, ev.CallbackData)
	if errors.Is(err, search.ErrTokenDecode) {
		if ansErr := b.answer(ctx, ev, expiredSearchText); ansErr != nil {
			return ansErr
		}
		return newError(ErrorTokenDecode, "navigate", err)
	}
	if err != nil {
		_ = b.answer(ctx, ev, "Search failed, please try again.")
		return newError(ErrorInternal, "navigate", err)
	}
	if err := b.answer(ctx, ev, ""); err != nil {
		return err
	}
	if err := b.msg.EditMessageText(ctx, ev.ChatID, ev.MessageID, pageText(page), pageKeyboard(page)); err != nil {
		return newError(ErrorInternal, "edit_message", err)
	}
	return nil
}

func (b *Bot) answer(ctx context.Context, ev Event, text string) error {
	if err := b.msg.AnswerCallbackQuery(ctx, ev.CallbackID, text); err != nil {
		return newError(ErrorInternal, "answer_callback", err)
	}
	return nil
}
