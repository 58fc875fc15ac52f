package domain

import (
	"context"
	"time"
)

// ChatSession is one conversation within a user's model namespace
type ChatSession struct {
	ID        string    `json:"id"`
	Model     Model     `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// SessionSummary is the history-list projection of a session
type SessionSummary struct {
	ID           string    `json:"id"`
	Model        Model     `json:"model"`
	Title        string    `json:"title"`
	LastMessage  string    `json:"last_message"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// LastActivity is the instant used to order the history list
func (s SessionSummary) LastActivity() time.Time {
	if s.MessageCount == 0 {
		return s.CreatedAt
	}
	return s.Timestamp
}

// Attachment is an image sent along with a user message
type Attachment struct {
	Data        []byte
	ContentType string
}

// AppendRequest describes one message to add to a session
type AppendRequest struct {
	UserID     string
	SessionID  string // empty creates a new session
	Model      Model
	Author     Author
	Text       string
	ImageURL   string // already stored image, e.g. a generated one
	Attachment *Attachment
	Timestamp  time.Time // zero means now
}

// BlobStorage stores binary attachments and returns a retrievable URL
type BlobStorage interface {
	Upload(ctx context.Context, userID string, a Attachment) (string, error)
}
