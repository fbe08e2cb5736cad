package domain

import "time"

// FileKind is the kind of uploaded content.
type FileKind string

const (
	FileKindDocument FileKind = "document"
	FileKindPhoto    FileKind = "photo"
)

// FileRef identifies a content item by the chat message that carried it.
type FileRef struct {
	RoomCode  string
	ChatID    int64
	MessageID int64
}

// File is an uploaded content item scoped to one room. Tags and AITags hold
// normalized values only. FileID is the channel's handle for the upload.
type File struct {
	ID          string
	FileID      string
	Kind        FileKind
	DisplayName string
	Caption     string
	UploaderID  int64
	RoomCode    string
	ChatID      int64
	MessageID   int64
	Tags        []string
	AITags      []string
	CreatedAt   time.Time
}

// Ref returns the message reference of the file.
func (f File) Ref() FileRef {
	return FileRef{RoomCode: f.RoomCode, ChatID: f.ChatID, MessageID: f.MessageID}
}

// FileFilter selects files during a room listing.
type FileFilter func(File) bool
