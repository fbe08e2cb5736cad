package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"studyroom-bot/internal/aigateway"
	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/extract"
)

const processingText = "🤖 Processing with AI... Please wait."

var aiTitles = map[aigateway.Operation]string{
	aigateway.OpSummarize: "Summary",
	aigateway.OpExplain:   "Explanation",
	aigateway.OpQuestions: "Quiz",
}

func (b *Bot) runAI(ctx context.Context, ev Event, op aigateway.Operation) error {
	if ev.Reply == nil {
		return b.reply(ctx, ev, fmt.Sprintf("❌ Please reply to a message or file with /%s", ev.Command))
	}
	allowed, err := b.quota.Allow(ctx, ev.UserID)
	if err != nil {
		return newError(ErrorInternal, "quota_check", err)
	}
	if !allowed {
		return b.reply(ctx, ev, b.limitText(ctx, ev.UserID))
	}
	text, err := b.sourceText(ctx, ev.Reply)
	if err != nil {
		return err
	}
	if text == "" {
		return b.reply(ctx, ev, "❌ I couldn't find any text in that message. Reply to a text message, a caption, a .txt file or a PDF.")
	}

	placeholder, err := b.msg.SendMessage(ctx, ev.ChatID, processingText, replyTo(ev))
	if err != nil {
		return newError(ErrorInternal, "send_message", err)
	}

	var res aigateway.Result
	switch op {
	case aigateway.OpSummarize:
		res = b.ai.Summarize(ctx, text)
	case aigateway.OpExplain:
		res = b.ai.Explain(ctx, text)
	default:
		res = b.ai.GenerateQuestions(ctx, text, aigateway.ParseQuestionCount(ev.Args))
	}

	final := res.Text
	if !res.Degraded {
		_, err := b.quota.Record(ctx, ev.UserID, ev.Command)
		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			final = b.limitText(ctx, ev.UserID)
		case err != nil:
			b.logger.Warn("ai usage not recorded", "user_id", ev.UserID, "command", ev.Command, "err", err)
			fallthrough
		default:
			final = fitMessage(fmt.Sprintf("✅ <b>AI %s Result:</b>\n\n", aiTitles[op]), res.Text)
		}
	}
	return b.finish(ctx, ev, placeholder.MessageID, final)
}

// finish edits the placeholder into the final text, or sends it fresh when
// the edit fails.
func (b *Bot) finish(ctx context.Context, ev Event, messageID int64, text string) error {
	if err := b.msg.EditMessageText(ctx, ev.ChatID, messageID, text, nil); err != nil {
		b.logger.Warn("placeholder edit failed", "chat_id", ev.ChatID, "message_id", messageID, "err", err)
		return b.reply(ctx, ev, text)
	}
	return nil
}

func (b *Bot) limitText(ctx context.Context, userID int64) string {
	used, err := b.quota.Usage(ctx, userID)
	if err != nil {
		used = b.quota.Limit()
	}
	return fmt.Sprintf("❌ Daily AI limit reached (%d/%d calls). Try again tomorrow.", used, b.quota.Limit())
}

// sourceText extracts the text an AI command works on: the quoted text, its
// caption, or the content of a plain-text or PDF document. A PDF without a
// readable text layer yields "".
func (b *Bot) sourceText(ctx context.Context, q *Quoted) (string, error) {
	if s := strings.TrimSpace(q.Text); s != "" {
		return s, nil
	}
	if s := strings.TrimSpace(q.Caption); s != "" {
		return s, nil
	}
	switch {
	case isPlainText(q.Attachment):
		data, err := b.download(ctx, q.Attachment.FileID, maxTextDownload)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(data) {
			data = []byte(strings.ToValidUTF8(string(data), ""))
		}
		return strings.TrimSpace(string(data)), nil
	case isPDF(q.Attachment):
		if q.Attachment.Size > maxPDFDownload {
			return "", nil
		}
		data, err := b.download(ctx, q.Attachment.FileID, maxPDFDownload)
		if err != nil {
			return "", err
		}
		text, err := extract.PDF(data, extract.MaxPDFPages)
		if err != nil {
			b.logger.Warn("pdf text extraction failed", "file_id", q.Attachment.FileID, "err", err)
			return "", nil
		}
		return strings.ToValidUTF8(text, ""), nil
	}
	return "", nil
}

func (b *Bot) download(ctx context.Context, fileID string, limit int64) ([]byte, error) {
	f, err := b.msg.GetFile(ctx, fileID)
	if err != nil {
		return nil, newError(ErrorInternal, "get_file", err)
	}
	data, err := b.msg.DownloadFile(ctx, f.FilePath, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "download_file", err)
	}
	return data, nil
}

func isPlainText(a *Attachment) bool {
	if a == nil || a.Kind != domain.FileKindDocument {
		return false
	}
	return strings.HasPrefix(a.MimeType, "text/plain") || strings.EqualFold(path.Ext(a.Name), ".txt")
}

func isPDF(a *Attachment) bool {
	if a == nil || a.Kind != domain.FileKindDocument {
		return false
	}
	return a.MimeType == "application/pdf" || strings.EqualFold(path.Ext(a.Name), ".pdf")
}
