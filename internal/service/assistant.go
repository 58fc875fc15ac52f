package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/llm"
	"github.com/Rrens/ally-chat/internal/quota"
	"github.com/rs/zerolog/log"
)

// historyLimit bounds how many earlier messages are sent to the provider
const historyLimit = 20

// QuotaLedger is the subset of the ledger used by the assistant
type QuotaLedger interface {
	GetQuota(ctx context.Context, userID string) (domain.UserQuota, error)
	CanAfford(ctx context.Context, userID string, cost int) (bool, error)
	Debit(ctx context.Context, userID string, cost int) (bool, error)
}

// ChatStore persists sessions and messages
type ChatStore interface {
	ListSessions(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, error)
	AppendMessage(ctx context.Context, req domain.AppendRequest) (string, error)
	GetMessages(ctx context.Context, userID string, model domain.Model, sessionID string) ([]domain.Message, error)
	GetSession(ctx context.Context, userID string, model domain.Model, sessionID string) (*domain.ChatSession, error)
	DeleteSession(ctx context.Context, userID string, model domain.Model, sessionID string) error
	ClearAllSessions(ctx context.Context, userID string, model domain.Model) error
}

// StatsReporter produces usage statistics
type StatsReporter interface {
	GetStats(ctx context.Context, userID string) domain.UsageStats
}

// ProviderRouter resolves the inference provider for a model
type ProviderRouter interface {
	ProviderFor(model domain.Model) (llm.Provider, error)
}

// SendMessageRequest is one user turn
type SendMessageRequest struct {
	SessionID string
	Model     domain.Model
	Text      string
	Image     *domain.Attachment
}

// SendMessageResult is the outcome of a turn. SessionID is set as soon as the
// user message is persisted, even when a later step fails.
type SendMessageResult struct {
	SessionID string           `json:"session_id"`
	Cost      int              `json:"cost"`
	Messages  []domain.Message `json:"messages,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	LatencyMs int64            `json:"latency_ms,omitempty"`
}

// Affordability answers whether a prospective message fits the remaining quota
type Affordability struct {
	Model      domain.Model `json:"model"`
	Images     int          `json:"images"`
	Cost       int          `json:"cost"`
	Affordable bool         `json:"affordable"`
}

// AssistantService drives a chat turn across the ledger, the chat store and inference
type AssistantService struct {
	ledger    QuotaLedger
	chats     ChatStore
	stats     StatsReporter
	providers ProviderRouter
	timeout   time.Duration
}

// NewAssistantService creates a new assistant service
func NewAssistantService(ledger QuotaLedger, chats ChatStore, stats StatsReporter, providers ProviderRouter) *AssistantService {
	return &AssistantService{
		ledger:    ledger,
		chats:     chats,
		stats:     stats,
		providers: providers,
		timeout:   90 * time.Second,
	}
}

// SetInferenceTimeout bounds the provider call
func (s *AssistantService) SetInferenceTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// SendMessage checks affordability, persists the user message, debits the
// quota, then generates and persists the assistant reply.
func (s *AssistantService) SendMessage(ctx context.Context, userID string, req SendMessageRequest) (*SendMessageResult, error) {
	if _, err := domain.ParseModel(string(req.Model)); err != nil {
		return nil, err
	}
	if req.Text == "" && req.Image == nil {
		return nil, domain.ErrEmptyMessage
	}

	images := 0
	if req.Image != nil {
		images = 1
	}
	cost := quota.Cost(req.Model, images)

	// 1. Affordability, failing closed
	ok, err := s.ledger.CanAfford(ctx, userID, cost)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("quota unavailable, refusing message")
		return nil, fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, err)
	}
	if !ok {
		return nil, domain.ErrQuotaExceeded
	}

	// 2. Persist the user message
	sessionID, err := s.chats.AppendMessage(ctx, domain.AppendRequest{
		UserID:     userID,
		SessionID:  req.SessionID,
		Model:      req.Model,
		Author:     domain.AuthorUser,
		Text:       req.Text,
		Attachment: req.Image,
	})
	if err != nil {
		return nil, err
	}
	result := &SendMessageResult{SessionID: sessionID, Cost: cost}

	// 3. Debit, strictly after the append completed
	debited, err := s.ledger.Debit(ctx, userID, cost)
	if err != nil {
		return result, err
	}
	if !debited {
		return result, domain.ErrQuotaExceeded
	}

	// 4. Inference over the session history
	history, err := s.chats.GetMessages(ctx, userID, req.Model, sessionID)
	if err != nil {
		return result, err
	}
	prompt, history := splitPrompt(history)

	provider, err := s.providers.ProviderFor(req.Model)
	if err != nil {
		return result, fmt.Errorf("%w: %w", domain.ErrInferenceFailed, err)
	}

	inferCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := provider.Generate(inferCtx, llm.Request{
		Prompt:   prompt.Text,
		History:  history,
		ImageURL: prompt.ImageURL,
		Model:    req.Model,
	})
	if err != nil {
		log.Error().Err(err).
			Str("user_id", userID).
			Str("session_id", sessionID).
			Str("provider", provider.Name()).
			Msg("inference failed")
		return result, fmt.Errorf("%w: %w", domain.ErrInferenceFailed, err)
	}
	result.Provider = provider.Name()
	result.LatencyMs = resp.LatencyMs

	// 5. Persist the reply
	reply := domain.AppendRequest{
		UserID:    userID,
		SessionID: sessionID,
		Model:     req.Model,
		Author:    domain.AuthorAssistant,
		Text:      resp.Text,
		ImageURL:  resp.ImageURL,
	}
	if len(resp.ImageData) > 0 {
		reply.Attachment = &domain.Attachment{Data: resp.ImageData, ContentType: resp.ImageContentType}
	}
	if _, err := s.chats.AppendMessage(ctx, reply); err != nil {
		if errors.Is(err, domain.ErrEmptyMessage) {
			return result, fmt.Errorf("%w: provider returned an empty reply", domain.ErrInferenceFailed)
		}
		return result, err
	}

	messages, err := s.chats.GetMessages(ctx, userID, req.Model, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to reload session after reply")
		return result, nil
	}
	result.Messages = messages

	log.Info().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Str("model", string(req.Model)).
		Int("cost", cost).
		Int64("latency_ms", resp.LatencyMs).
		Msg("assistant turn completed")

	return result, nil
}

// splitPrompt separates the latest user message from the earlier turns
func splitPrompt(messages []domain.Message) (domain.Message, []domain.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Author == domain.AuthorUser {
			history := messages[:i]
			if len(history) > historyLimit {
				history = history[len(history)-historyLimit:]
			}
			return messages[i], history
		}
	}
	return domain.Message{}, messages
}

// CheckAffordability prices a prospective message and checks it against the quota
func (s *AssistantService) CheckAffordability(ctx context.Context, userID string, model domain.Model, images int) (*Affordability, error) {
	if _, err := domain.ParseModel(string(model)); err != nil {
		return nil, err
	}
	if images < 0 {
		return nil, domain.ErrInvalidCost
	}
	cost := quota.Cost(model, images)
	ok, err := s.ledger.CanAfford(ctx, userID, cost)
	if err != nil {
		return nil, err
	}
	return &Affordability{Model: model, Images: images, Cost: cost, Affordable: ok}, nil
}

// GetQuota returns the user's current quota window
func (s *AssistantService) GetQuota(ctx context.Context, userID string) (domain.UserQuota, error) {
	return s.ledger.GetQuota(ctx, userID)
}

// GetStats returns usage statistics for display
func (s *AssistantService) GetStats(ctx context.Context, userID string) domain.UsageStats {
	return s.stats.GetStats(ctx, userID)
}

// ListSessions returns the history list of a model namespace
func (s *AssistantService) ListSessions(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, error) {
	return s.chats.ListSessions(ctx, userID, model)
}

// GetSession returns a session with its messages
func (s *AssistantService) GetSession(ctx context.Context, userID string, model domain.Model, sessionID string) (*domain.ChatSession, error) {
	return s.chats.GetSession(ctx, userID, model, sessionID)
}

// GetMessages returns the ordered messages of a session
func (s *AssistantService) GetMessages(ctx context.Context, userID string, model domain.Model, sessionID string) ([]domain.Message, error) {
	return s.chats.GetMessages(ctx, userID, model, sessionID)
}

// DeleteSession removes one session
func (s *AssistantService) DeleteSession(ctx context.Context, userID string, model domain.Model, sessionID string) error {
	return s.chats.DeleteSession(ctx, userID, model, sessionID)
}

// ClearHistory removes every session of a model namespace
func (s *AssistantService) ClearHistory(ctx context.Context, userID string, model domain.Model) error {
	return s.chats.ClearAllSessions(ctx, userID, model)
}
