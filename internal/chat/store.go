package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultUntitled is the title of a session whose first message has no text
const DefaultUntitled = "New Chat"

// SummaryCache keeps computed history lists. Implementations must tolerate misses.
type SummaryCache interface {
	Get(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, bool)

	// Generation returns a token that changes on every Invalidate.
	// ok is false when the token cannot be read.
	Generation(ctx context.Context, userID string, model domain.Model) (gen int64, ok bool)

	// Set stores summaries only while the generation still equals gen
	Set(ctx context.Context, userID string, model domain.Model, gen int64, summaries []domain.SessionSummary)

	Invalidate(ctx context.Context, userID string, model domain.Model)
}

type sessionNode struct {
	CreatedAt string `json:"createdAt"`
}

// Store keeps chat sessions and their messages in a DocumentStore
type Store struct {
	docs     domain.DocumentStore
	blobs    domain.BlobStorage
	cache    SummaryCache
	untitled string
	now      func() time.Time
}

// NewStore creates a chat store. blobs and cache may be nil.
func NewStore(docs domain.DocumentStore, blobs domain.BlobStorage, cache SummaryCache, untitled string) *Store {
	if untitled == "" {
		untitled = DefaultUntitled
	}
	return &Store{
		docs:     docs,
		blobs:    blobs,
		cache:    cache,
		untitled: untitled,
		now:      time.Now,
	}
}

// ListSessions returns the history list of a namespace, most recent activity first
func (s *Store) ListSessions(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, error) {
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, userID, model); ok {
			return cached, nil
		}
		// read before listing so a write landing mid-list rejects the Set
		gen, cacheable = s.cache.Generation(ctx, userID, model)
	}

	entries, err := s.docs.List(ctx, domain.NamespacePath(userID, model))
	if err != nil {
		return nil, persistenceError("failed to list sessions", err)
	}

	summaries := make([]domain.SessionSummary, 0, len(entries))
	for _, e := range entries {
		sessionID := domain.UnescapeKey(e.Key)
		messages, err := s.loadMessages(ctx, userID, model, sessionID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s.summarize(sessionID, model, nodeCreatedAt(e.Document), messages))
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		ai, aj := summaries[i].LastActivity(), summaries[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return summaries[i].ID < summaries[j].ID
	})

	if cacheable {
		s.cache.Set(ctx, userID, model, gen, summaries)
	}
	return summaries, nil
}

// AppendMessage adds a message, creating the session when req.SessionID is empty.
// An attachment is uploaded before any write; if that fails nothing is written.
// A session created here is removed again when its first message cannot be stored.
func (s *Store) AppendMessage(ctx context.Context, req domain.AppendRequest) (string, error) {
	if _, err := domain.ParseModel(string(req.Model)); err != nil {
		return "", err
	}
	if req.Author == "" {
		req.Author = domain.AuthorUser
	}
	if req.Text == "" && req.ImageURL == "" && req.Attachment == nil {
		return "", domain.ErrEmptyMessage
	}

	// an unknown session is rejected before anything is uploaded
	sessionID := req.SessionID
	if sessionID != "" {
		if err := s.ensureSession(ctx, req.UserID, req.Model, sessionID); err != nil {
			return "", err
		}
	}

	imageURL := req.ImageURL
	if req.Attachment != nil {
		if s.blobs == nil {
			return "", fmt.Errorf("%w: no blob storage configured", domain.ErrUploadFailed)
		}
		url, err := s.blobs.Upload(ctx, req.UserID, *req.Attachment)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrUploadFailed, err)
		}
		imageURL = url
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = s.now()
	}

	msg := domain.Message{
		ID:        newID(),
		Author:    req.Author,
		Text:      req.Text,
		ImageURL:  imageURL,
		Timestamp: timestamp,
	}
	data, err := domain.MarshalMessage(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	created := false
	if sessionID == "" {
		id, err := s.createSession(ctx, req.UserID, req.Model, timestamp)
		if err != nil {
			return "", err
		}
		sessionID = id
		created = true
	}

	// messages are append-only, never overwritten
	path := domain.MessagePath(req.UserID, req.Model, sessionID, msg.ID)
	if err := s.docs.PutIfVersion(ctx, path, data, 0); err != nil {
		if created {
			s.discardSession(req.UserID, req.Model, sessionID)
		}
		return "", persistenceError("failed to append message", err)
	}
	s.invalidate(ctx, req.UserID, req.Model)

	log.Debug().
		Str("user_id", req.UserID).
		Str("session_id", sessionID).
		Str("author", string(req.Author)).
		Bool("image", imageURL != "").
		Msg("message appended")

	return sessionID, nil
}

// GetMessages returns the messages of a session in chronological order
func (s *Store) GetMessages(ctx context.Context, userID string, model domain.Model, sessionID string) ([]domain.Message, error) {
	if err := s.ensureSession(ctx, userID, model, sessionID); err != nil {
		return nil, err
	}
	return s.loadMessages(ctx, userID, model, sessionID)
}

// GetSession returns a session with all its messages
func (s *Store) GetSession(ctx context.Context, userID string, model domain.Model, sessionID string) (*domain.ChatSession, error) {
	doc, err := s.docs.Get(ctx, domain.SessionPath(userID, model, sessionID))
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, persistenceError("failed to get session", err)
	}

	messages, err := s.loadMessages(ctx, userID, model, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.ChatSession{
		ID:        sessionID,
		Model:     model,
		CreatedAt: nodeCreatedAt(*doc),
		Messages:  messages,
	}, nil
}

// Summarize computes the history-list fields of a session
func (s *Store) Summarize(session *domain.ChatSession) domain.SessionSummary {
	return s.summarize(session.ID, session.Model, session.CreatedAt, session.Messages)
}

// DeleteSession removes a session and its messages. Unknown ids are not an error.
func (s *Store) DeleteSession(ctx context.Context, userID string, model domain.Model, sessionID string) error {
	if err := s.docs.DeleteTree(ctx, domain.SessionPath(userID, model, sessionID)); err != nil {
		return persistenceError("failed to delete session", err)
	}
	s.invalidate(ctx, userID, model)
	log.Info().Str("user_id", userID).Str("session_id", sessionID).Msg("session deleted")
	return nil
}

// ClearAllSessions removes every session of a namespace
func (s *Store) ClearAllSessions(ctx context.Context, userID string, model domain.Model) error {
	if err := s.docs.DeleteTree(ctx, domain.NamespacePath(userID, model)); err != nil {
		return persistenceError("failed to clear sessions", err)
	}
	s.invalidate(ctx, userID, model)
	log.Info().Str("user_id", userID).Str("model", string(model)).Msg("chat history cleared")
	return nil
}

func (s *Store) createSession(ctx context.Context, userID string, model domain.Model, createdAt time.Time) (string, error) {
	sessionID := newID()
	data, err := json.Marshal(sessionNode{CreatedAt: createdAt.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.docs.PutIfVersion(ctx, domain.SessionPath(userID, model, sessionID), data, 0); err != nil {
		return "", persistenceError("failed to create session", err)
	}
	log.Info().Str("user_id", userID).Str("model", string(model)).Str("session_id", sessionID).Msg("session created")
	return sessionID, nil
}

// discardSession removes a session created by a failed append. It runs on its
// own context so a cancelled request still cleans up.
func (s *Store) discardSession(userID string, model domain.Model, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.docs.DeleteTree(ctx, domain.SessionPath(userID, model, sessionID)); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("session_id", sessionID).Msg("failed to discard empty session")
		return
	}
	s.invalidate(ctx, userID, model)
}

func (s *Store) ensureSession(ctx context.Context, userID string, model domain.Model, sessionID string) error {
	_, err := s.docs.Get(ctx, domain.SessionPath(userID, model, sessionID))
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return persistenceError("failed to get session", err)
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, userID string, model domain.Model, sessionID string) ([]domain.Message, error) {
	entries, err := s.docs.List(ctx, domain.MessagesPath(userID, model, sessionID))
	if err != nil {
		return nil, persistenceError("failed to list messages", err)
	}

	messages := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		id := domain.UnescapeKey(e.Key)
		m, err := domain.UnmarshalMessage(id, e.Data)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Str("message_id", id).Msg("skipping unreadable message")
			continue
		}
		messages = append(messages, m)
	}

	// arrival order is not chronological when writes race over the network
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].Timestamp.Before(messages[j].Timestamp)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

func (s *Store) summarize(sessionID string, model domain.Model, createdAt time.Time, messages []domain.Message) domain.SessionSummary {
	summary := domain.SessionSummary{
		ID:           sessionID,
		Model:        model,
		Title:        s.untitled,
		MessageCount: len(messages),
		CreatedAt:    createdAt,
	}
	if len(messages) == 0 {
		return summary
	}
	if first := messages[0].Text; first != "" {
		summary.Title = first
	}
	last := messages[len(messages)-1]
	summary.LastMessage = last.Text
	summary.Timestamp = last.Timestamp
	return summary
}

func (s *Store) invalidate(ctx context.Context, userID string, model domain.Model) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID, model)
	}
}

func nodeCreatedAt(doc domain.Document) time.Time {
	var node sessionNode
	if err := json.Unmarshal(doc.Data, &node); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, node.CreatedAt); err == nil {
			return t
		}
	}
	return doc.CreatedAt
}

// newID returns a time-ordered UUID so ids sort like their creation time
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func persistenceError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, domain.ErrPersistenceUnavailable, err)
}
