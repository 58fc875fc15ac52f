package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Author identifies who wrote a message
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// stored value the mobile client has always used for assistant messages
const assistantWireAuthor = "AI"

// ParseAuthor accepts both the API value and the stored value
func ParseAuthor(s string) (Author, error) {
	switch s {
	case string(AuthorUser):
		return AuthorUser, nil
	case string(AuthorAssistant), assistantWireAuthor:
		return AuthorAssistant, nil
	}
	return "", fmt.Errorf("unknown author %q", s)
}

// Message is one entry of a chat session
type Message struct {
	ID        string    `json:"id"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	ImageURL  string    `json:"image_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type messageRecord struct {
	Author    string `json:"author"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// MarshalMessage encodes a message in its stored form. The id lives in the path.
func MarshalMessage(m Message) ([]byte, error) {
	author := string(m.Author)
	if m.Author == AuthorAssistant {
		author = assistantWireAuthor
	}
	return json.Marshal(messageRecord{
		Author:    author,
		Message:   m.Text,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		ImageURL:  m.ImageURL,
	})
}

// UnmarshalMessage decodes a stored message
func UnmarshalMessage(id string, data []byte) (Message, error) {
	var rec messageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Message{}, err
	}
	author, err := ParseAuthor(rec.Author)
	if err != nil {
		return Message{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return Message{}, fmt.Errorf("invalid timestamp on message %s: %w", id, err)
	}
	return Message{
		ID:        id,
		Author:    author,
		Text:      rec.Message,
		ImageURL:  rec.ImageURL,
		Timestamp: ts,
	}, nil
}
