package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyroom-bot/internal/aigateway"
	"studyroom-bot/internal/conversation"
	"studyroom-bot/internal/domain"
	"studyroom-bot/internal/integrations/telegram"
	"studyroom-bot/internal/ratelimit"
	"studyroom-bot/internal/search"
	"studyroom-bot/internal/tagging"
)

// memStore is an in-memory stand-in for the DynamoDB repository.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]domain.User
	rooms    map[string]domain.Room
	links    map[int64]string
	files    []domain.File
	usage    map[string]domain.UsageCounter
	codes    int
	getErr   error
	saveErr  error
	linkErr  error
	usageErr error
	clockSeq int
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[int64]domain.User),
		rooms: make(map[string]domain.Room),
		links: make(map[int64]string),
		usage: make(map[string]domain.UsageCounter),
	}
}

func cloneRoom(r domain.Room) domain.Room {
	r.Members = slices.Clone(r.Members)
	return r
}

func (s *memStore) EnsureUser(_ context.Context, u domain.User) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.UserID]; ok {
		return existing, false, nil
	}
	s.users[u.UserID] = u
	return u, true, nil
}

func (s *memStore) GetUser(_ context.Context, userID int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.User{}, s.getErr
	}
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *memStore) SetCurrentRoom(_ context.Context, userID int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.CurrentRoomCode = code
	s.users[userID] = u
	return nil
}

func (s *memStore) CreateRoom(_ context.Context, name, description string, ownerID int64) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes++
	r := domain.Room{
		Code:        fmt.Sprintf("ROOM%04d", s.codes),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Members:     []int64{ownerID},
		Active:      true,
	}
	s.rooms[r.Code] = r
	return cloneRoom(r), nil
}

func (s *memStore) GetActiveRoom(_ context.Context, code string) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok || !r.Active {
		return domain.Room{}, domain.ErrNotFound
	}
	return cloneRoom(r), nil
}

func (s *memStore) AddMember(_ context.Context, code string, userID int64) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok || !r.Active {
		return domain.Room{}, domain.ErrNotFound
	}
	if !r.HasMember(userID) {
		r.Members = append(r.Members, userID)
	}
	s.rooms[code] = r
	return cloneRoom(r), nil
}

func (s *memStore) RemoveMember(_ context.Context, code string, userID int64) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	r.Members = slices.DeleteFunc(r.Members, func(id int64) bool { return id == userID })
	s.rooms[code] = r
	return cloneRoom(r), nil
}

func (s *memStore) LinkChat(_ context.Context, code string, chatID, ownerID int64) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok || !r.Active {
		return domain.Room{}, domain.ErrNotFound
	}
	if r.OwnerID != ownerID {
		return domain.Room{}, domain.ErrForbidden
	}
	if s.linkErr != nil {
		return domain.Room{}, s.linkErr
	}
	if prev, ok := s.links[chatID]; ok {
		old := s.rooms[prev]
		old.LinkedChannelID = 0
		s.rooms[prev] = old
	}
	if r.LinkedChannelID != 0 {
		delete(s.links, r.LinkedChannelID)
	}
	r.LinkedChannelID = chatID
	s.rooms[code] = r
	s.links[chatID] = code
	return cloneRoom(r), nil
}

func (s *memStore) GetRoomByChat(_ context.Context, chatID int64) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.links[chatID]
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	r, ok := s.rooms[code]
	if !ok || !r.Active || r.LinkedChannelID != chatID {
		return domain.Room{}, domain.ErrNotFound
	}
	return cloneRoom(r), nil
}

func (s *memStore) DisconnectChat(_ context.Context, chatID int64) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.links[chatID]
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	delete(s.links, chatID)
	r := s.rooms[code]
	r.LinkedChannelID = 0
	s.rooms[code] = r
	return cloneRoom(r), nil
}

func (s *memStore) SaveFile(_ context.Context, f domain.File) (domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return domain.File{}, s.saveErr
	}
	for _, existing := range s.files {
		if existing.Ref() == f.Ref() {
			return domain.File{}, domain.ErrConflict
		}
	}
	s.clockSeq++
	f.ID = fmt.Sprintf("file-%d", s.clockSeq)
	f.CreatedAt = time.Date(2026, 1, 1, 0, 0, s.clockSeq, 0, time.UTC)
	s.files = append(s.files, f)
	return f, nil
}

func (s *memStore) AddFileTags(_ context.Context, ref domain.FileRef, field tagging.Field, tags []string) (domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.files {
		if f.Ref() != ref {
			continue
		}
		if field == tagging.FieldSuggested {
			f.AITags = tagging.Normalize(append(f.AITags, tags...))
		} else {
			f.Tags = tagging.Normalize(append(f.Tags, tags...))
		}
		s.files[i] = f
		return f, nil
	}
	return domain.File{}, domain.ErrNotFound
}

// newest first, like the repository
func (s *memStore) roomFiles(room string, filter domain.FileFilter) []domain.File {
	var out []domain.File
	for i := len(s.files) - 1; i >= 0; i-- {
		f := s.files[i]
		if f.RoomCode == room && (filter == nil || filter(f)) {
			out = append(out, f)
		}
	}
	return out
}

func (s *memStore) FindFiles(_ context.Context, room string, filter domain.FileFilter, offset, limit int) ([]domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.roomFiles(room, filter)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memStore) CountFiles(_ context.Context, room string, filter domain.FileFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.roomFiles(room, filter)), nil
}

func usageKey(userID int64, date string) string {
	return fmt.Sprintf("%d/%s", userID, date)
}

func (s *memStore) GetUsage(_ context.Context, userID int64, date string) (domain.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.usage[usageKey(userID, date)]
	if !ok {
		return domain.UsageCounter{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *memStore) IncrementUsage(_ context.Context, userID int64, date, command string, limit int) (domain.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usageErr != nil {
		return domain.UsageCounter{}, s.usageErr
	}
	k := usageKey(userID, date)
	c := s.usage[k]
	if c.Count >= limit {
		return domain.UsageCounter{}, domain.ErrQuotaExceeded
	}
	c.UserID, c.Date, c.LastCommand = userID, date, command
	c.Count++
	s.usage[k] = c
	return c, nil
}

func (s *memStore) usageToday(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey(userID, domain.UsageDate(testNow()))].Count
}

func (s *memStore) room(code string) domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRoom(s.rooms[code])
}

func (s *memStore) user(id int64) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   telegram.SendOptions
}

type editedMessage struct {
	ChatID    int64
	MessageID int64
	Text      string
	Keyboard  *telegram.InlineKeyboardMarkup
}

type fakeMessenger struct {
	mu       sync.Mutex
	nextID   int64
	sent     []sentMessage
	edits    []editedMessage
	answers  []string
	admins   map[int64][]int64
	contents map[string]string
	sendErr  error
	editErr  error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		nextID:   1000,
		admins:   make(map[int64][]int64),
		contents: make(map[string]string),
	}
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, opts telegram.SendOptions) (telegram.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return telegram.Message{}, m.sendErr
	}
	m.nextID++
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return telegram.Message{MessageID: m.nextID, Chat: telegram.Chat{ID: chatID}, Text: text}, nil
}

func (m *fakeMessenger) EditMessageText(_ context.Context, chatID, messageID int64, text string, kb *telegram.InlineKeyboardMarkup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, editedMessage{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return nil
}

func (m *fakeMessenger) AnswerCallbackQuery(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *fakeMessenger) GetChatAdministrators(_ context.Context, chatID int64) ([]telegram.ChatMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []telegram.ChatMember
	for _, id := range m.admins[chatID] {
		out = append(out, telegram.ChatMember{Status: "administrator", User: telegram.User{ID: id}})
	}
	return out, nil
}

func (m *fakeMessenger) GetFile(_ context.Context, fileID string) (telegram.File, error) {
	return telegram.File{FileID: fileID, FilePath: "documents/" + fileID}, nil
}

func (m *fakeMessenger) DownloadFile(_ context.Context, filePath string, _ int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.contents[strings.TrimPrefix(filePath, "documents/")]
	if !ok {
		return nil, errors.New("no such file")
	}
	return []byte(content), nil
}

func (m *fakeMessenger) last() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMessage{}
	}
	return m.sent[len(m.sent)-1]
}

type aiCall struct {
	Op    aigateway.Operation
	Text  string
	Count int
}

type fakeAI struct {
	mu     sync.Mutex
	result aigateway.Result
	tags   aigateway.Result
	calls  []aiCall
}

func (a *fakeAI) record(c aiCall) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, c)
}

func (a *fakeAI) Summarize(_ context.Context, text string) aigateway.Result {
	a.record(aiCall{Op: aigateway.OpSummarize, Text: text})
	return a.result
}

func (a *fakeAI) Explain(_ context.Context, text string) aigateway.Result {
	a.record(aiCall{Op: aigateway.OpExplain, Text: text})
	return a.result
}

func (a *fakeAI) GenerateQuestions(_ context.Context, text string, count int) aigateway.Result {
	a.record(aiCall{Op: aigateway.OpQuestions, Text: text, Count: count})
	return a.result
}

func (a *fakeAI) SuggestTags(_ context.Context, text string) aigateway.Result {
	a.record(aiCall{Op: aigateway.OpTags, Text: text})
	return a.tags
}

func testNow() time.Time {
	return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
}

const testDailyLimit = 3

type harness struct {
	bot    *Bot
	store  *memStore
	msg    *fakeMessenger
	ai     *fakeAI
	logs   *bytes.Buffer
	nextID int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	msg := newFakeMessenger()
	ai := &fakeAI{result: aigateway.Result{Text: "a short summary"}}

	wf, err := conversation.NewRoomCreation(RoomCreation(store))
	require.NoError(t, err)
	engine, err := conversation.NewEngine(conversation.Config{}, wf)
	require.NoError(t, err)
	merger, err := tagging.NewMerger(store)
	require.NoError(t, err)
	pager, err := search.NewPaginator(store, 2)
	require.NoError(t, err)
	limiter, err := ratelimit.New(store, testDailyLimit, ratelimit.WithClock(testNow))
	require.NoError(t, err)
	logs := &bytes.Buffer{}

	bot, err := NewBot(Deps{
		Messenger:     msg,
		Store:         store,
		AI:            ai,
		Quota:         limiter,
		Conversations: engine,
		Tagger:        merger,
		Searcher:      pager,
		Logger:        slog.New(slog.NewTextHandler(logs, nil)),
	})
	require.NoError(t, err)
	return &harness{bot: bot, store: store, msg: msg, ai: ai, logs: logs, nextID: 1}
}

// private builds a message from userID in its private chat. A leading slash
// makes it a command.
func (h *harness) private(userID int64, text string) Event {
	return h.message(userID, userID, true, text)
}

func (h *harness) group(userID, chatID int64, text string) Event {
	return h.message(userID, chatID, false, text)
}

func (h *harness) message(userID, chatID int64, private bool, text string) Event {
	h.nextID++
	ev := Event{UserID: userID, FirstName: fmt.Sprintf("user%d", userID), ChatID: chatID, Private: private, MessageID: h.nextID, Text: text}
	if strings.HasPrefix(text, "/") {
		cmd, args, _ := strings.Cut(text[1:], " ")
		ev.Command = cmd
		ev.Args = strings.TrimSpace(args)
	}
	return ev
}

func (h *harness) send(t *testing.T, ev Event) string {
	t.Helper()
	require.NoError(t, h.bot.Handle(context.Background(), ev))
	return h.msg.last().Text
}

// createRoom runs the whole create-room workflow for userID and returns the
// new code.
func (h *harness) createRoom(t *testing.T, userID int64, name string) string {
	t.Helper()
	h.send(t, h.private(userID, "/create_room"))
	h.send(t, h.private(userID, name))
	h.send(t, h.private(userID, "/skip"))
	u := h.store.user(userID)
	require.NotEmpty(t, u.CurrentRoomCode)
	return u.CurrentRoomCode
}
