package usecase

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"studyroom-bot/internal/conversation"
	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/integrations/telegram"
	"studyroom-bot/internal/search"
	"studyroom-bot/internal/tagging"
)

const (
	CommandStart          = "start"
	CommandHelp           = "help"
	CommandCreateRoom     = "create_room"
	CommandCancel         = conversation.CancelCommand
	CommandSkip           = conversation.SkipCommand
	CommandJoinRoom       = "join_room"
	CommandMyRoom         = "my_room"
	CommandLeaveRoom      = "leave_room"
	CommandAddTags        = "add_tags"
	CommandSearch         = "search"
	CommandSummarise      = "summarise"
	CommandSummarize      = "summarize"
	CommandExplain        = "explain"
	CommandQuiz           = "quiz"
	CommandConnectRoom    = "connect_room"
	CommandDisconnectRoom = "disconnect_room"
)

const captionPreviewLen = 50

const helpText = `📚 <b>CollaLearn commands</b>

<b>Rooms</b>
/create_room - create a study room
/join_room CODE - join a room
/my_room - show your current room
/leave_room - leave your current room

<b>Files</b>
Send a document or photo to share it with your room.
/add_tags tag1, tag2 - reply to a file to tag it
/search text - find files by name, caption or tag

<b>AI</b>
Reply to a message or text file with:
/summarize - short summary
/explain - simple explanation
/quiz [n] - practice questions

<b>Groups</b>
/connect_room CODE - link this group to your room
/disconnect_room - unlink this group`

func welcomeText(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 Welcome to CollaLearn, %s!\n\n"+
		"Create or join a study room, share files with your group and let AI "+
		"summarize, explain or quiz you on the material.\n\nSend /help to see all commands.",
		html.EscapeString(name))
}

func roomCreatedText(r domain.Room) string {
	var sb strings.Builder
	sb.WriteString("✅ Room created successfully!\n\n")
	fmt.Fprintf(&sb, "📚 <b>Name:</b> %s\n", html.EscapeString(r.Name))
	fmt.Fprintf(&sb, "🔑 <b>Code:</b> <code>%s</code>\n", r.Code)
	if r.Description != "" {
		fmt.Fprintf(&sb, "📝 <b>Description:</b> %s\n", html.EscapeString(r.Description))
	}
	sb.WriteString("\nShare the code so others can /join_room.")
	return sb.String()
}

func roomDetailsText(r domain.Room, userID int64) string {
	role := "Member"
	if r.OwnerID == userID {
		role = "Owner"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📚 <b>%s</b>\n", html.EscapeString(r.Name))
	fmt.Fprintf(&sb, "🔑 <b>Code:</b> <code>%s</code>\n", r.Code)
	if r.Description != "" {
		fmt.Fprintf(&sb, "📝 %s\n", html.EscapeString(r.Description))
	}
	fmt.Fprintf(&sb, "👥 <b>Members:</b> %d\n", len(r.Members))
	fmt.Fprintf(&sb, "👤 <b>Your role:</b> %s\n", role)
	if r.IsLinked() {
		sb.WriteString("🔗 Linked to Group")
	} else {
		sb.WriteString("🔗 Not linked to a group")
	}
	return sb.String()
}

func uploadedText(f domain.File) string {
	var sb strings.Builder
	sb.WriteString("✅ File uploaded successfully!\n\n")
	fmt.Fprintf(&sb, "📎 <b>File:</b> %s\n", html.EscapeString(f.DisplayName))
	if len(f.AITags) > 0 {
		fmt.Fprintf(&sb, "🤖 <b>Suggested tags:</b> %s\n", escapeTags(f.AITags))
	}
	sb.WriteString("\nReply with /add_tags tag1, tag2 to add your own tags.")
	return sb.String()
}

func escapeTags(tags []string) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + html.EscapeString(t)
	}
	return strings.Join(out, " ")
}

func pageText(p search.Page) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 <b>Results for:</b> %s\n", html.EscapeString(p.Query))
	pages := (p.Total + p.PageSize - 1) / p.PageSize
	fmt.Fprintf(&sb, "Found %d file(s), page %d/%d\n", p.Total, p.Number+1, max(pages, 1))
	if len(p.Items) == 0 {
		sb.WriteString("\nNo files on this page.")
		return sb.String()
	}
	for i, f := range p.Items {
		fmt.Fprintf(&sb, "\n%d. 📎 <b>%s</b>\n", p.Offset()+i+1, html.EscapeString(f.DisplayName))
		if tags := tagging.Union(f); len(tags) > 0 {
			fmt.Fprintf(&sb, "   🏷️ %s\n", escapeTags(tags))
		}
		if f.Caption != "" {
			fmt.Fprintf(&sb, "   💬 %s\n", html.EscapeString(preview(f.Caption, captionPreviewLen)))
		}
	}
	return sb.String()
}

func pageKeyboard(p search.Page) *telegram.InlineKeyboardMarkup {
	var row []telegram.InlineKeyboardButton
	if p.PrevToken != "" {
		row = append(row, telegram.InlineKeyboardButton{Text: "◀️ Previous", CallbackData: p.PrevToken})
	}
	if p.NextToken != "" {
		row = append(row, telegram.InlineKeyboardButton{Text: "Next ▶️", CallbackData: p.NextToken})
	}
	if len(row) == 0 {
		return nil
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{row}}
}

func preview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}

// fitMessage escapes body and cuts it so header plus body fit one message.
func fitMessage(header, body string) string {
	budget := telegram.MaxMessageLength - utf8.RuneCountInString(header)
	escaped := html.EscapeString(body)
	if utf8.RuneCountInString(escaped) <= budget {
		return header + escaped
	}
	budget-- // ellipsis
	var sb strings.Builder
	n := 0
	for _, c := range body {
		e := html.EscapeString(string(c))
		w := utf8.RuneCountInString(e)
		if n+w > budget {
			break
		}
		sb.WriteString(e)
		n += w
	}
	return header + sb.String() + "…"
}
