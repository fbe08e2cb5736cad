package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"studyroom-bot/internal/conversation"
	"studyroom-bot/internal/domain"
)

type RoomCreatorStore interface {
	CreateRoom(ctx context.Context, name, description string, ownerID int64) (domain.Room, error)
	SetCurrentRoom(ctx context.Context, userID int64, code string) error
}

// RoomCreation persists the room collected by the create-room workflow and
// makes it the owner's current room.
func RoomCreation(store RoomCreatorStore) conversation.RoomCreator {
	return func(ctx context.Context, userID int64, name, description string) (string, error) {
		room, err := store.CreateRoom(ctx, name, description, userID)
		if err != nil {
			return "", fmt.Errorf("usecase: create room: %w", err)
		}
		if err := store.SetCurrentRoom(ctx, userID, room.Code); err != nil {
			return "", fmt.Errorf("usecase: select created room %s: %w", room.Code, err)
		}
		return roomCreatedText(room), nil
	}
}

func (b *Bot) start(ctx context.Context, ev Event) error {
	if err := b.ensureUser(ctx, ev); err != nil {
		return err
	}
	return b.reply(ctx, ev, welcomeText(ev.FirstName))
}

func (b *Bot) createRoom(ctx context.Context, ev Event) error {
	if !ev.Private {
		return b.reply(ctx, ev, "Please send /create_room to me in a private chat.")
	}
	if err := b.ensureUser(ctx, ev); err != nil {
		return err
	}
	_, em, err := b.sessions.Start(ev.UserID, conversation.KindCreateRoom)
	if err != nil {
		return newError(ErrorInternal, "workflow_start", err)
	}
	return b.reply(ctx, ev, em.Text)
}

func (b *Bot) joinRoom(ctx context.Context, ev Event) error {
	code := strings.ToUpper(firstArg(ev.Args))
	if code == "" {
		return b.reply(ctx, ev, "❌ Please provide a room code: /join_room CODE")
	}
	if !domain.ValidRoomCode(code) {
		return b.reply(ctx, ev, fmt.Sprintf("❌ Room with code %s not found.", html.EscapeString(code)))
	}
	if err := b.ensureUser(ctx, ev); err != nil {
		return err
	}
	room, err := b.store.AddMember(ctx, code, ev.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return b.reply(ctx, ev, fmt.Sprintf("❌ Room with code %s not found.", code))
	}
	if err != nil {
		return newError(ErrorInternal, "add_member", err)
	}
	if err := b.store.SetCurrentRoom(ctx, ev.UserID, room.Code); err != nil {
		return newError(ErrorInternal, "set_current_room", err)
	}
	return b.reply(ctx, ev, fmt.Sprintf("✅ You joined <b>%s</b>!\n\n👥 Members: %d",
		html.EscapeString(room.Name), len(room.Members)))
}

func (b *Bot) myRoom(ctx context.Context, ev Event) error {
	u, err := b.store.GetUser(ctx, ev.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorInternal, "get_user", err)
	}
	if u.CurrentRoomCode == "" {
		return b.reply(ctx, ev, "❌ You're not in any room. Use /join_room CODE or /create_room.")
	}
	room, err := b.store.GetActiveRoom(ctx, u.CurrentRoomCode)
	if errors.Is(err, domain.ErrNotFound) {
		return b.reply(ctx, ev, "❌ Your room is no longer available. Use /join_room CODE or /create_room.")
	}
	if err != nil {
		return newError(ErrorInternal, "get_room", err)
	}
	return b.reply(ctx, ev, roomDetailsText(room, ev.UserID))
}

func (b *Bot) leaveRoom(ctx context.Context, ev Event) error {
	u, err := b.store.GetUser(ctx, ev.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorInternal, "get_user", err)
	}
	if u.CurrentRoomCode == "" {
		return b.reply(ctx, ev, "❌ You're not in any room.")
	}
	code := u.CurrentRoomCode
	if _, err := b.store.RemoveMember(ctx, code, ev.UserID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorInternal, "remove_member", err)
	}
	if err := b.store.SetCurrentRoom(ctx, ev.UserID, ""); err != nil {
		return newError(ErrorInternal, "clear_current_room", err)
	}
	return b.reply(ctx, ev, fmt.Sprintf("✅ You have left the room <code>%s</code>.", code))
}

func (b *Bot) connectRoom(ctx context.Context, ev Event) error {
	if ev.Private {
		return b.reply(ctx, ev, "❌ This command only works in group chats.")
	}
	if ok, err := b.isChatAdmin(ctx, ev); err != nil || !ok {
		return err
	}
	code := strings.ToUpper(firstArg(ev.Args))
	if code == "" {
		return b.reply(ctx, ev, "❌ Please provide a room code: /connect_room CODE")
	}
	if !domain.ValidRoomCode(code) {
		return b.reply(ctx, ev, fmt.Sprintf("❌ Room with code %s not found.", html.EscapeString(code)))
	}
	room, err := b.store.LinkChat(ctx, code, ev.ChatID, ev.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return b.reply(ctx, ev, fmt.Sprintf("❌ Room with code %s not found.", code))
	case errors.Is(err, domain.ErrForbidden):
		return b.reply(ctx, ev, "❌ Only the room owner can link it to a group.")
	case errors.Is(err, domain.ErrConflict):
		return b.reply(ctx, ev, "❌ The room's group link changed at the same time. Please try /connect_room again.")
	case err != nil:
		return newError(ErrorInternal, "link_chat", err)
	}
	return b.reply(ctx, ev, fmt.Sprintf("✅ This group is now linked to room <b>%s</b> (<code>%s</code>).\n\n"+
		"Files shared here are saved to the room.", html.EscapeString(room.Name), room.Code))
}

func (b *Bot) disconnectRoom(ctx context.Context, ev Event) error {
	if ev.Private {
		return b.reply(ctx, ev, "❌ This command only works in group chats.")
	}
	if ok, err := b.isChatAdmin(ctx, ev); err != nil || !ok {
		return err
	}
	room, err := b.store.DisconnectChat(ctx, ev.ChatID)
	if errors.Is(err, domain.ErrNotFound) {
		return b.reply(ctx, ev, "❌ This group is not linked to any room.")
	}
	if err != nil {
		return newError(ErrorInternal, "disconnect_chat", err)
	}
	return b.reply(ctx, ev, fmt.Sprintf("✅ This group is no longer linked to room <code>%s</code>.", room.Code))
}

// isChatAdmin reports whether the sender administers the group. A false
// result has already been answered.
func (b *Bot) isChatAdmin(ctx context.Context, ev Event) (bool, error) {
	admins, err := b.msg.GetChatAdministrators(ctx, ev.ChatID)
	if err != nil {
		return false, newError(ErrorInternal, "get_chat_administrators", err)
	}
	for _, m := range admins {
		if m.User.ID == ev.UserID {
			return true, nil
		}
	}
	return false, b.reply(ctx, ev, "❌ Only group administrators can use this command.")
}
