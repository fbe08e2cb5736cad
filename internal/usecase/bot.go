package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"studyroom-bot/internal/aigateway"
	"studyroom-bot/internal/conversation"
	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/integrations/telegram"
	"studyroom-bot/internal/search"
)

const (
	maxTextDownload = 1 << 20
	// Bot API file downloads are capped at 20 MB.
	maxPDFDownload = 20 << 20
)

type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	GetChatAdministrators(ctx context.Context, chatID int64) ([]telegram.ChatMember, error)
	GetFile(ctx context.Context, fileID string) (telegram.File, error)
	DownloadFile(ctx context.Context, filePath string, limit int64) ([]byte, error)
}

type Store interface {
	EnsureUser(ctx context.Context, u domain.User) (domain.User, bool, error)
	GetUser(ctx context.Context, userID int64) (domain.User, error)
	SetCurrentRoom(ctx context.Context, userID int64, code string) error
	GetActiveRoom(ctx context.Context, code string) (domain.Room, error)
	AddMember(ctx context.Context, code string, userID int64) (domain.Room, error)
	RemoveMember(ctx context.Context, code string, userID int64) (domain.Room, error)
	LinkChat(ctx context.Context, code string, chatID, ownerID int64) (domain.Room, error)
	GetRoomByChat(ctx context.Context, chatID int64) (domain.Room, error)
	DisconnectChat(ctx context.Context, chatID int64) (domain.Room, error)
	SaveFile(ctx context.Context, f domain.File) (domain.File, error)
}

type AI interface {
	Summarize(ctx context.Context, text string) aigateway.Result
	Explain(ctx context.Context, text string) aigateway.Result
	GenerateQuestions(ctx context.Context, text string, count int) aigateway.Result
	SuggestTags(ctx context.Context, text string) aigateway.Result
}

type Quota interface {
	Limit() int
	Allow(ctx context.Context, userID int64) (bool, error)
	Record(ctx context.Context, userID int64, command string) (int, error)
	Usage(ctx context.Context, userID int64) (int, error)
}

type Conversations interface {
	Start(userID int64, kind conversation.Kind) (conversation.Session, conversation.Emission, error)
	Advance(ctx context.Context, userID int64, in conversation.Input) (conversation.Session, conversation.Emission, error)
}

type Tagger interface {
	Merge(ctx context.Context, ref domain.FileRef, raw []string) (domain.File, error)
	MergeSuggested(ctx context.Context, ref domain.FileRef, raw []string) (domain.File, error)
}

type Searcher interface {
	Page(ctx context.Context, roomCode, query string, n int) (search.Page, error)
	Navigate(ctx context.Context, payload string) (search.Page, error)
}

// Deps bundles the collaborators of a Bot. Logger is optional.
type Deps struct {
	Messenger     Messenger
	Store         Store
	AI            AI
	Quota         Quota
	Conversations Conversations
	Tagger        Tagger
	Searcher      Searcher
	Logger        *slog.Logger
}

// Bot turns chat events into replies. Every handled event gets a reply; the
// returned error is for logging only.
type Bot struct {
	msg      Messenger
	store    Store
	ai       AI
	quota    Quota
	sessions Conversations
	tagger   Tagger
	searcher Searcher
	logger   *slog.Logger
}

func NewBot(d Deps) (*Bot, error) {
	switch {
	case d.Messenger == nil:
		return nil, errors.New("usecase: messenger must not be nil")
	case d.Store == nil:
		return nil, errors.New("usecase: store must not be nil")
	case d.AI == nil:
		return nil, errors.New("usecase: ai gateway must not be nil")
	case d.Quota == nil:
		return nil, errors.New("usecase: quota must not be nil")
	case d.Conversations == nil:
		return nil, errors.New("usecase: conversation engine must not be nil")
	case d.Tagger == nil:
		return nil, errors.New("usecase: tagger must not be nil")
	case d.Searcher == nil:
		return nil, errors.New("usecase: searcher must not be nil")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		msg:      d.Messenger,
		store:    d.Store,
		ai:       d.AI,
		quota:    d.Quota,
		sessions: d.Conversations,
		tagger:   d.Tagger,
		searcher: d.Searcher,
		logger:   logger,
	}, nil
}

// Handle routes one event. Failures are reported to the chat before they are
// returned.
func (b *Bot) Handle(ctx context.Context, ev Event) error {
	if ev.IsCallback() {
		return b.handleCallback(ctx, ev)
	}
	if ev.UserID == 0 {
		return nil
	}
	err := b.route(ctx, ev)
	if err != nil {
		b.replyFailure(ctx, ev, err)
	}
	return err
}

func (b *Bot) route(ctx context.Context, ev Event) error {
	if ev.Private && ev.Attachment == nil {
		switch ev.Command {
		case "", CommandCancel, CommandSkip:
			handled, err := b.advanceConversation(ctx, ev)
			if handled {
				return err
			}
		}
	}
	if ev.Attachment != nil && ev.Command == "" {
		return b.upload(ctx, ev)
	}

	switch ev.Command {
	case "":
		return nil
	case CommandStart:
		return b.start(ctx, ev)
	case CommandHelp:
		return b.reply(ctx, ev, helpText)
	case CommandCreateRoom:
		return b.createRoom(ctx, ev)
	case CommandCancel:
		return b.reply(ctx, ev, "Nothing to cancel.")
	case CommandSkip:
		return b.reply(ctx, ev, "Nothing to skip.")
	case CommandJoinRoom:
		return b.joinRoom(ctx, ev)
	case CommandMyRoom:
		return b.myRoom(ctx, ev)
	case CommandLeaveRoom:
		return b.leaveRoom(ctx, ev)
	case CommandAddTags:
		return b.addTags(ctx, ev)
	case CommandSearch:
		return b.search(ctx, ev)
	case CommandSummarise, CommandSummarize:
		return b.runAI(ctx, ev, aigateway.OpSummarize)
	case CommandExplain:
		return b.runAI(ctx, ev, aigateway.OpExplain)
	case CommandQuiz:
		return b.runAI(ctx, ev, aigateway.OpQuestions)
	case CommandConnectRoom:
		return b.connectRoom(ctx, ev)
	case CommandDisconnectRoom:
		return b.disconnectRoom(ctx, ev)
	default:
		if ev.Private {
			return b.reply(ctx, ev, "Unknown command. Send /help to see what I can do.")
		}
		return nil
	}
}

// advanceConversation feeds ev into an open workflow. It reports false when
// the user has none.
func (b *Bot) advanceConversation(ctx context.Context, ev Event) (bool, error) {
	_, em, err := b.sessions.Advance(ctx, ev.UserID, conversation.Input{Text: ev.Text, Command: ev.Command})
	switch {
	case errors.Is(err, conversation.ErrNoActiveWorkflow):
		return false, nil
	case errors.Is(err, conversation.ErrSessionInconsistent):
		return true, newError(ErrorSessionInconsistent, "workflow_state", err)
	case err != nil:
		return true, newError(ErrorInternal, "workflow_commit", err)
	}
	if em.Text == "" {
		return true, nil
	}
	return true, b.reply(ctx, ev, em.Text)
}

func (b *Bot) reply(ctx context.Context, ev Event, text string) error {
	return b.replyWith(ctx, ev, text, nil)
}

func (b *Bot) replyWith(ctx context.Context, ev Event, text string, kb *telegram.InlineKeyboardMarkup) error {
	_, err := b.msg.SendMessage(ctx, ev.ChatID, text, telegram.SendOptions{
		ReplyToMessageID: ev.MessageID,
		Keyboard:         kb,
	})
	if err != nil {
		return newError(ErrorInternal, "send_message", err)
	}
	return nil
}

func (b *Bot) replyFailure(ctx context.Context, ev Event, err error) {
	var text string
	switch CodeOf(err) {
	case ErrorSessionInconsistent:
		text = "⚠️ Something went out of sync. Please start again with /create_room."
	case ErrorQuotaExceeded:
		text = fmt.Sprintf("❌ Daily AI limit reached (%d calls). Try again tomorrow.", b.quota.Limit())
	default:
		text = "❌ Something went wrong. Please try again later."
	}
	var e *Error
	if errors.As(err, &e) && e.Reason == "send_message" {
		return
	}
	if _, sendErr := b.msg.SendMessage(ctx, ev.ChatID, text, replyTo(ev)); sendErr != nil {
		b.logger.Warn("failure notice not delivered", "chat_id", ev.ChatID, "err", sendErr)
	}
}

// currentRoom resolves the room an event acts on: the user's current room in
// a private chat, the linked room in a group. domain.ErrNotFound means none.
func (b *Bot) currentRoom(ctx context.Context, ev Event) (domain.Room, error) {
	if !ev.Private {
		return b.store.GetRoomByChat(ctx, ev.ChatID)
	}
	u, err := b.store.GetUser(ctx, ev.UserID)
	if err != nil {
		return domain.Room{}, err
	}
	if u.CurrentRoomCode == "" {
		return domain.Room{}, domain.ErrNotFound
	}
	return b.store.GetActiveRoom(ctx, u.CurrentRoomCode)
}

// roomOrNotice resolves the room or tells the user how to get one. ok is
// false when the event has been answered.
func (b *Bot) roomOrNotice(ctx context.Context, ev Event) (domain.Room, bool, error) {
	room, err := b.currentRoom(ctx, ev)
	switch {
	case err == nil:
		return room, true, nil
	case errors.Is(err, domain.ErrNotFound):
		if ev.Private {
			return domain.Room{}, false, b.reply(ctx, ev, "❌ You're not in a room. Use /join_room CODE or /create_room first.")
		}
		return domain.Room{}, false, b.reply(ctx, ev, "❌ This group is not linked to a room. An admin can use /connect_room CODE.")
	default:
		return domain.Room{}, false, newError(ErrorInternal, "resolve_room", err)
	}
}

func (b *Bot) ensureUser(ctx context.Context, ev Event) error {
	_, _, err := b.store.EnsureUser(ctx, domain.User{
		UserID:    ev.UserID,
		Username:  ev.Username,
		FirstName: ev.FirstName,
		Role:      domain.RoleUser,
	})
	if err != nil {
		return newError(ErrorInternal, "ensure_user", err)
	}
	return nil
}

func firstArg(args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func replyTo(ev Event) telegram.SendOptions {
	return telegram.SendOptions{ReplyToMessageID: ev.MessageID}
}
