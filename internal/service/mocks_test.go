package service

import (
	"context"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/llm"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the QuotaLedger interface
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetQuota(ctx context.Context, userID string) (domain.UserQuota, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.UserQuota), args.Error(1)
}

func (m *MockLedger) CanAfford(ctx context.Context, userID string, cost int) (bool, error) {
	args := m.Called(ctx, userID, cost)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) Debit(ctx context.Context, userID string, cost int) (bool, error) {
	args := m.Called(ctx, userID, cost)
	return args.Bool(0), args.Error(1)
}

// MockChatStore mocks the ChatStore interface
type MockChatStore struct {
	mock.Mock
}

func (m *MockChatStore) ListSessions(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, error) {
	args := m.Called(ctx, userID, model)
	return args.Get(0).([]domain.SessionSummary), args.Error(1)
}

func (m *MockChatStore) AppendMessage(ctx context.Context, req domain.AppendRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockChatStore) GetMessages(ctx context.Context, userID string, model domain.Model, sessionID string) ([]domain.Message, error) {
	args := m.Called(ctx, userID, model, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockChatStore) GetSession(ctx context.Context, userID string, model domain.Model, sessionID string) (*domain.ChatSession, error) {
	args := m.Called(ctx, userID, model, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatSession), args.Error(1)
}

func (m *MockChatStore) DeleteSession(ctx context.Context, userID string, model domain.Model, sessionID string) error {
	args := m.Called(ctx, userID, model, sessionID)
	return args.Error(0)
}

func (m *MockChatStore) ClearAllSessions(ctx context.Context, userID string, model domain.Model) error {
	args := m.Called(ctx, userID, model)
	return args.Error(0)
}

// MockProvider mocks llm.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) IsConfigured() bool {
	return true
}

func (m *MockProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

// staticRouter always returns the same provider
type staticRouter struct {
	provider llm.Provider
	err      error
}

func (r staticRouter) ProviderFor(model domain.Model) (llm.Provider, error) {
	return r.provider, r.err
}
