package usecase

import "studyroom-bot/internal/domain"

// Attachment is a file carried by a chat message.
type Attachment struct {
	FileID   string
	Kind     domain.FileKind
	Name     string
	MimeType string
	Size     int64
}

// Quoted is the message an event replies to.
type Quoted struct {
	MessageID  int64
	Text       string
	Caption    string
	Attachment *Attachment
}

// Event is one inbound chat interaction, already classified. Command is
// lower-cased without the slash or bot mention; Args is the rest of the text.
type Event struct {
	UpdateID   int64
	UserID     int64
	Username   string
	FirstName  string
	ChatID     int64
	Private    bool
	MessageID  int64
	Command    string
	Args       string
	Text       string
	Caption    string
	Attachment *Attachment
	Reply      *Quoted

	CallbackID   string
	CallbackData string
}

// IsCallback reports whether the event is a button press.
func (e Event) IsCallback() bool {
	return e.CallbackID != ""
}
