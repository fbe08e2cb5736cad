package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/tagging"
)

const (
	defaultPhotoName = "photo.jpg"
	defaultFileName  = "document"
	suggestCommand   = "suggest_tags"
)

func (b *Bot) upload(ctx context.Context, ev Event) error {
	room, ok, err := b.roomOrNotice(ctx, ev)
	if !ok {
		return err
	}
	a := ev.Attachment
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = defaultFileName
		if a.Kind == domain.FileKindPhoto {
			name = defaultPhotoName
		}
	}
	saved, err := b.store.SaveFile(ctx, domain.File{
		FileID:      a.FileID,
		Kind:        a.Kind,
		DisplayName: name,
		Caption:     strings.TrimSpace(ev.Caption),
		UploaderID:  ev.UserID,
		RoomCode:    room.Code,
		ChatID:      ev.ChatID,
		MessageID:   ev.MessageID,
	})
	if errors.Is(err, domain.ErrConflict) {
		// Redelivered update: the message is already stored and answered.
		return nil
	}
	if err != nil {
		return newError(ErrorInternal, "save_file", err)
	}
	if saved.Caption != "" {
		saved = b.suggestTags(ctx, ev.UserID, saved)
	}
	return b.reply(ctx, ev, uploadedText(saved))
}

// suggestTags asks the AI for tags from the caption. The upload stands
// whether or not suggestions arrive.
func (b *Bot) suggestTags(ctx context.Context, userID int64, f domain.File) domain.File {
	allowed, err := b.quota.Allow(ctx, userID)
	if err != nil {
		b.logger.Warn("tag suggestion skipped", "user_id", userID, "err", err)
		return f
	}
	if !allowed {
		return f
	}
	res := b.ai.SuggestTags(ctx, f.Caption)
	if res.Degraded || len(res.Tags) == 0 {
		return f
	}
	if _, err := b.quota.Record(ctx, userID, suggestCommand); err != nil {
		if !errors.Is(err, domain.ErrQuotaExceeded) {
			b.logger.Warn("tag suggestion usage not recorded", "user_id", userID, "file_id", f.ID, "err", err)
		}
		return f
	}
	merged, err := b.tagger.MergeSuggested(ctx, f.Ref(), res.Tags)
	if err != nil {
		b.logger.Warn("suggested tags not stored", "file_id", f.ID, "err", err)
		return f
	}
	return merged
}

func (b *Bot) addTags(ctx context.Context, ev Event) error {
	if ev.Reply == nil {
		return b.reply(ctx, ev, "❌ Please reply to a file with /add_tags tag1, tag2")
	}
	raw := tagging.ParseList(ev.Args)
	if len(raw) == 0 {
		return b.reply(ctx, ev, "❌ Please provide tags: /add_tags tag1, tag2")
	}
	room, ok, err := b.roomOrNotice(ctx, ev)
	if !ok {
		return err
	}
	ref := domain.FileRef{RoomCode: room.Code, ChatID: ev.ChatID, MessageID: ev.Reply.MessageID}
	f, err := b.tagger.Merge(ctx, ref, raw)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return b.reply(ctx, ev, "❌ That message is not a file shared in this room.")
	case errors.Is(err, tagging.ErrNoTags):
		return b.reply(ctx, ev, "❌ Please provide tags: /add_tags tag1, tag2")
	case err != nil:
		return newError(ErrorInternal, "add_tags", err)
	}
	return b.reply(ctx, ev, fmt.Sprintf("✅ Tags updated for <b>%s</b>\n🏷️ %s",
		html.EscapeString(f.DisplayName), escapeTags(tagging.Union(f))))
}
